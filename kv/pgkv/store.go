// Package pgkv stores kv records in a single Postgres table through pgx.
package pgkv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"disputeflow/kv"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DefaultLockID is the advisory lock every writer takes. It keeps commands
// from different processes sharing one database strictly sequential.
const DefaultLockID int64 = 0x64697370757465 // "dispute"

type Store struct {
	pool   TxBeginner
	lockID int64
}

func New(pool TxBeginner) *Store {
	return &Store{pool: pool, lockID: DefaultLockID}
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgkv: begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, s.lockID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("pgkv: acquire writer lock: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("pgkv: get: %w", err)
	}
	return value, nil
}

func (t *pgTx) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	if end := kv.PrefixEnd(prefix); end != nil {
		rows, err = t.tx.Query(ctx, `
			SELECT key, value FROM kv_entries
			WHERE key >= $1 AND key < $2
			ORDER BY key
		`, prefix, end)
	} else {
		rows, err = t.tx.Query(ctx, `
			SELECT key, value FROM kv_entries
			WHERE key >= $1
			ORDER BY key
		`, prefix)
	}
	if err != nil {
		return fmt.Errorf("pgkv: scan: %w", err)
	}
	defer rows.Close()

	// Drain first so fn may issue statements on the same transaction.
	type entry struct{ key, value []byte }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return fmt.Errorf("pgkv: scan row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgkv: iterate: %w", err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) Put(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	const upsert = `
		INSERT INTO kv_entries (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := t.tx.Exec(ctx, upsert, key, value); err != nil {
		return fmt.Errorf("pgkv: put: %w", err)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, key []byte) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pgkv: delete: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return kv.ErrTxDone
		}
		return fmt.Errorf("pgkv: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("pgkv: rollback: %w", err)
	}
	return nil
}
