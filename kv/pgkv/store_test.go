package pgkv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"disputeflow/kv"
)

func TestBegin_TakesAdvisoryLock(t *testing.T) {
	pool := &fakePool{}
	store := New(pool)

	tx, err := store.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(pool.tx.execs) != 1 || !strings.Contains(pool.tx.execs[0], "pg_advisory_xact_lock") {
		t.Fatalf("expected advisory lock statement, got %v", pool.tx.execs)
	}
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !pool.tx.rolled {
		t.Fatalf("expected rollback to reach pgx")
	}
}

func TestBegin_LockFailureRollsBack(t *testing.T) {
	pool := &fakePool{execErr: errors.New("lock timeout")}
	store := New(pool)

	if _, err := store.Begin(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
	if !pool.tx.rolled {
		t.Fatalf("expected rollback after failed lock")
	}
}

func TestGet_NoRowsMapsToNotFound(t *testing.T) {
	pool := &fakePool{row: fakeRow{err: pgx.ErrNoRows}}
	tx, err := New(pool).Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Get(context.Background(), kv.Key("missing")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected kv.ErrNotFound, got %v", err)
	}
}

func TestRollbackAfterCommit_IsNoop(t *testing.T) {
	pool := &fakePool{}
	tx, err := New(pool).Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	pool.tx.rollbackErr = pgx.ErrTxClosed
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("expected nil rollback after commit, got %v", err)
	}
}

type fakePool struct {
	tx      *fakeTx
	execErr error
	row     fakeRow
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{execErr: f.execErr, row: f.row}
	return f.tx, nil
}

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*[]byte); ok {
		*p = r.value
	}
	return nil
}

type fakeTx struct {
	execs       []string
	execErr     error
	row         fakeRow
	rolled      bool
	committed   bool
	rollbackErr error
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return f.rollbackErr
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
