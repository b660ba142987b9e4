// Package sqlkv stores kv records in a database/sql table. It is used with the
// pure-Go sqlite driver for single-node deployments.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"disputeflow/kv"
)

type Store struct {
	db     *sql.DB
	writer sync.Mutex
}

// Open opens a sqlite database at dsn and creates the table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlkv: open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes ordered
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	const query = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key   BLOB PRIMARY KEY,
		value BLOB NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlkv: migrate: %w", err)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	s.writer.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writer.Unlock()
		return nil, fmt.Errorf("sqlkv: begin tx: %w", err)
	}
	return &sqlTx{store: s, tx: tx}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	store *Store
	tx    *sql.Tx
	done  bool
}

func (t *sqlTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxDone
	}
	var value []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("sqlkv: get: %w", err)
	}
	return value, nil
}

func (t *sqlTx) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return kv.ErrTxDone
	}
	var (
		rows *sql.Rows
		err  error
	)
	if end := kv.PrefixEnd(prefix); end != nil {
		rows, err = t.tx.QueryContext(ctx, `SELECT key, value FROM kv_entries WHERE key >= ? AND key < ? ORDER BY key`, prefix, end)
	} else {
		rows, err = t.tx.QueryContext(ctx, `SELECT key, value FROM kv_entries WHERE key >= ? ORDER BY key`, prefix)
	}
	if err != nil {
		return fmt.Errorf("sqlkv: scan: %w", err)
	}
	defer rows.Close()

	type entry struct{ key, value []byte }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return fmt.Errorf("sqlkv: scan row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlkv: iterate: %w", err)
	}
	_ = rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) Put(ctx context.Context, key, value []byte) error {
	if t.done {
		return kv.ErrTxDone
	}
	if value == nil {
		value = []byte{}
	}
	const upsert = `INSERT INTO kv_entries (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := t.tx.ExecContext(ctx, upsert, key, value); err != nil {
		return fmt.Errorf("sqlkv: put: %w", err)
	}
	return nil
}

func (t *sqlTx) Delete(ctx context.Context, key []byte) error {
	if t.done {
		return kv.ErrTxDone
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlkv: delete: %w", err)
	}
	return nil
}

func (t *sqlTx) Commit(_ context.Context) error {
	if t.done {
		return kv.ErrTxDone
	}
	err := t.tx.Commit()
	t.finish()
	if err != nil {
		return fmt.Errorf("sqlkv: commit: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	t.finish()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlkv: rollback: %w", err)
	}
	return nil
}

func (t *sqlTx) finish() {
	t.done = true
	t.store.writer.Unlock()
}
