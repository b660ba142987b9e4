// Package ledger is the account ledger the marketplace settles against. Every
// operation runs inside the caller's kv transaction so fund movements commit
// or roll back together with the records that caused them.
package ledger

import (
	"context"
	"fmt"

	"disputeflow/errs"
	"disputeflow/kv"
)

var (
	ErrInsufficientBalance = errs.New(errs.ErrPaymentFailed, "ledger: insufficient balance")
	ErrZeroAmount          = errs.New(errs.ErrInvalidArgument, "ledger: amount must be positive")
	ErrSelfTransfer        = errs.New(errs.ErrInvalidArgument, "ledger: source and destination are the same account")
)

// Account is the balance sheet of one account. Locked funds stay in Free but
// cannot be moved or reserved until unlocked.
type Account struct {
	Free     Balance `json:"free"`
	Reserved Balance `json:"reserved"`
	Locked   Balance `json:"locked"`
}

// Usable is the part of Free that may be transferred or reserved.
func (a Account) Usable() Balance {
	return a.Free.Sub(a.Locked)
}

// Total is everything the account owns.
func (a Account) Total() Balance {
	return a.Free.Add(a.Reserved)
}

type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

var issuanceKey = kv.Key("ledger", "issuance")

func accountKey(who string) []byte {
	return kv.Key("ledger", "acct", who)
}

// Account returns the balances of who. Unknown accounts are empty.
func (l *Ledger) Account(ctx context.Context, r kv.Reader, who string) (Account, error) {
	acct, err := kv.LoadOr(ctx, r, accountKey(who), Account{})
	if err != nil {
		return Account{}, fmt.Errorf("ledger: load %s: %w", who, err)
	}
	return acct, nil
}

// Issuance returns the total amount in existence.
func (l *Ledger) Issuance(ctx context.Context, r kv.Reader) (Balance, error) {
	total, err := kv.LoadOr(ctx, r, issuanceKey, Balance(0))
	if err != nil {
		return 0, fmt.Errorf("ledger: load issuance: %w", err)
	}
	return total, nil
}

func (l *Ledger) save(ctx context.Context, tx kv.Tx, who string, acct Account) error {
	if acct == (Account{}) {
		if err := tx.Delete(ctx, accountKey(who)); err != nil {
			return fmt.Errorf("ledger: reap %s: %w", who, err)
		}
		return nil
	}
	if err := kv.Save(ctx, tx, accountKey(who), acct); err != nil {
		return fmt.Errorf("ledger: save %s: %w", who, err)
	}
	return nil
}

func (l *Ledger) adjustIssuance(ctx context.Context, tx kv.Tx, add, sub Balance) error {
	total, err := l.Issuance(ctx, tx)
	if err != nil {
		return err
	}
	total = total.Add(add).Sub(sub)
	if err := kv.Save(ctx, tx, issuanceKey, total); err != nil {
		return fmt.Errorf("ledger: save issuance: %w", err)
	}
	return nil
}

// Mint creates amount out of nothing in who's free balance.
func (l *Ledger) Mint(ctx context.Context, tx kv.Tx, who string, amount Balance) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return err
	}
	acct.Free = acct.Free.Add(amount)
	if err := l.save(ctx, tx, who, acct); err != nil {
		return err
	}
	return l.adjustIssuance(ctx, tx, amount, 0)
}

// Reserve moves amount from usable free balance into reserved.
func (l *Ledger) Reserve(ctx context.Context, tx kv.Tx, who string, amount Balance) error {
	if amount == 0 {
		return nil
	}
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return err
	}
	if acct.Usable() < amount {
		return fmt.Errorf("%w: %s needs %s, has %s", ErrInsufficientBalance, who, amount, acct.Usable())
	}
	acct.Free -= amount
	acct.Reserved = acct.Reserved.Add(amount)
	return l.save(ctx, tx, who, acct)
}

// Unreserve moves up to amount back to free and returns what was moved.
func (l *Ledger) Unreserve(ctx context.Context, tx kv.Tx, who string, amount Balance) (Balance, error) {
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return 0, err
	}
	moved := amount.Min(acct.Reserved)
	if moved == 0 {
		return 0, nil
	}
	acct.Reserved -= moved
	acct.Free = acct.Free.Add(moved)
	return moved, l.save(ctx, tx, who, acct)
}

// SlashReserved burns up to amount of who's reserved balance and returns what
// was burned.
func (l *Ledger) SlashReserved(ctx context.Context, tx kv.Tx, who string, amount Balance) (Balance, error) {
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return 0, err
	}
	slashed := amount.Min(acct.Reserved)
	if slashed == 0 {
		return 0, nil
	}
	acct.Reserved -= slashed
	if err := l.save(ctx, tx, who, acct); err != nil {
		return 0, err
	}
	return slashed, l.adjustIssuance(ctx, tx, 0, slashed)
}

// RepatriateReserved moves up to amount of from's reserved balance into to's
// free balance and returns what was moved.
func (l *Ledger) RepatriateReserved(ctx context.Context, tx kv.Tx, from, to string, amount Balance) (Balance, error) {
	if from == to {
		return l.Unreserve(ctx, tx, from, amount)
	}
	src, err := l.Account(ctx, tx, from)
	if err != nil {
		return 0, err
	}
	moved := amount.Min(src.Reserved)
	if moved == 0 {
		return 0, nil
	}
	dst, err := l.Account(ctx, tx, to)
	if err != nil {
		return 0, err
	}
	src.Reserved -= moved
	dst.Free = dst.Free.Add(moved)
	if err := l.save(ctx, tx, from, src); err != nil {
		return 0, err
	}
	return moved, l.save(ctx, tx, to, dst)
}

// Transfer moves amount of usable balance from one account to another.
func (l *Ledger) Transfer(ctx context.Context, tx kv.Tx, from, to string, amount Balance) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return ErrSelfTransfer
	}
	src, err := l.Account(ctx, tx, from)
	if err != nil {
		return err
	}
	if src.Usable() < amount {
		return fmt.Errorf("%w: %s needs %s, has %s", ErrInsufficientBalance, from, amount, src.Usable())
	}
	dst, err := l.Account(ctx, tx, to)
	if err != nil {
		return err
	}
	src.Free -= amount
	dst.Free = dst.Free.Add(amount)
	if err := l.save(ctx, tx, from, src); err != nil {
		return err
	}
	return l.save(ctx, tx, to, dst)
}

// Lock pins amount of who's usable free balance in place, as escrow.
func (l *Ledger) Lock(ctx context.Context, tx kv.Tx, who string, amount Balance) error {
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return err
	}
	if acct.Usable() < amount {
		return fmt.Errorf("%w: %s cannot lock %s, has %s", ErrInsufficientBalance, who, amount, acct.Usable())
	}
	acct.Locked = acct.Locked.Add(amount)
	return l.save(ctx, tx, who, acct)
}

// Unlock releases up to amount of who's locked balance.
func (l *Ledger) Unlock(ctx context.Context, tx kv.Tx, who string, amount Balance) error {
	acct, err := l.Account(ctx, tx, who)
	if err != nil {
		return err
	}
	acct.Locked = acct.Locked.Sub(amount)
	return l.save(ctx, tx, who, acct)
}
