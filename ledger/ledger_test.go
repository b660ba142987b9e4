package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/errs"
	"disputeflow/kv"
)

func withTx(t *testing.T, fn func(ctx context.Context, tx kv.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := kv.NewMemoryStore().Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	fn(ctx, tx)
}

func TestBalanceArithmetic(t *testing.T) {
	assert.Equal(t, Balance(math.MaxUint64), Balance(math.MaxUint64).Add(1))
	assert.Equal(t, Balance(0), Balance(3).Sub(5))
	assert.Equal(t, Balance(math.MaxUint64), Balance(math.MaxUint64/2+1).Mul(2))
	assert.Equal(t, Balance(5_000), Balance(100_000).Percent(5))
	assert.Equal(t, Balance(0), Balance(19).Percent(5))
	// the product overflows 64 bits but the quotient does not
	assert.Equal(t, Balance(math.MaxUint64/2), Balance(math.MaxUint64).Percent(50))
}

func TestReserveAndUnreserve(t *testing.T) {
	l := New()
	withTx(t, func(ctx context.Context, tx kv.Tx) {
		require.NoError(t, l.Mint(ctx, tx, "alice", 1_000))
		require.NoError(t, l.Reserve(ctx, tx, "alice", 400))

		acct, err := l.Account(ctx, tx, "alice")
		require.NoError(t, err)
		assert.Equal(t, Account{Free: 600, Reserved: 400}, acct)

		err = l.Reserve(ctx, tx, "alice", 601)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.ErrorIs(t, err, errs.ErrPaymentFailed)

		moved, err := l.Unreserve(ctx, tx, "alice", 1_000)
		require.NoError(t, err)
		assert.Equal(t, Balance(400), moved)
	})
}

func TestLockedFundsCannotMove(t *testing.T) {
	l := New()
	withTx(t, func(ctx context.Context, tx kv.Tx) {
		require.NoError(t, l.Mint(ctx, tx, "client", 1_000))
		require.NoError(t, l.Lock(ctx, tx, "client", 900))

		assert.ErrorIs(t, l.Transfer(ctx, tx, "client", "bob", 200), ErrInsufficientBalance)
		assert.ErrorIs(t, l.Reserve(ctx, tx, "client", 200), ErrInsufficientBalance)
		require.NoError(t, l.Transfer(ctx, tx, "client", "bob", 100))

		require.NoError(t, l.Unlock(ctx, tx, "client", 900))
		require.NoError(t, l.Transfer(ctx, tx, "client", "bob", 900))

		bob, err := l.Account(ctx, tx, "bob")
		require.NoError(t, err)
		assert.Equal(t, Balance(1_000), bob.Free)
	})
}

func TestSlashBurnsAndRepatriateMoves(t *testing.T) {
	l := New()
	withTx(t, func(ctx context.Context, tx kv.Tx) {
		require.NoError(t, l.Mint(ctx, tx, "juror", 100))
		require.NoError(t, l.Mint(ctx, tx, "loser", 100))
		require.NoError(t, l.Reserve(ctx, tx, "juror", 100))
		require.NoError(t, l.Reserve(ctx, tx, "loser", 50))

		slashed, err := l.SlashReserved(ctx, tx, "juror", 10)
		require.NoError(t, err)
		assert.Equal(t, Balance(10), slashed)

		moved, err := l.RepatriateReserved(ctx, tx, "loser", "pot", 80)
		require.NoError(t, err)
		assert.Equal(t, Balance(50), moved)

		pot, err := l.Account(ctx, tx, "pot")
		require.NoError(t, err)
		assert.Equal(t, Balance(50), pot.Free)

		issuance, err := l.Issuance(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, Balance(190), issuance)
	})
}

func TestTransferValidation(t *testing.T) {
	l := New()
	withTx(t, func(ctx context.Context, tx kv.Tx) {
		require.NoError(t, l.Mint(ctx, tx, "a", 10))
		assert.ErrorIs(t, l.Transfer(ctx, tx, "a", "a", 1), ErrSelfTransfer)
		assert.ErrorIs(t, l.Mint(ctx, tx, "a", 0), ErrZeroAmount)
		assert.NoError(t, l.Transfer(ctx, tx, "a", "b", 0))
	})
}

func TestEmptyAccountIsReaped(t *testing.T) {
	l := New()
	withTx(t, func(ctx context.Context, tx kv.Tx) {
		require.NoError(t, l.Mint(ctx, tx, "a", 10))
		require.NoError(t, l.Transfer(ctx, tx, "a", "b", 10))
		ok, err := kv.Exists(ctx, tx, accountKey("a"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestServiceMintCommits(t *testing.T) {
	ctx := context.Background()
	svc := NewService(kv.NewMemoryStore(), New())

	acct, err := svc.Mint(ctx, "alice", 250)
	require.NoError(t, err)
	assert.Equal(t, Account{Free: 250}, acct)

	_, err = svc.Mint(ctx, "alice", 0)
	assert.ErrorIs(t, err, ErrZeroAmount)

	got, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Balance(250), got.Free)
}
