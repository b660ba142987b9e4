// Package pebblekv is the embedded, durable kv backend built on pebble.
package pebblekv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"disputeflow/kv"
)

type Store struct {
	db     *pebble.DB
	writer sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:            pebble.NewCache(64 * 1024 * 1024), // 64MB
		MemTableSize:     32 * 1024 * 1024,                  // 32MB
		MaxMemTableTotal: 128 * 1024 * 1024,                 // 128MB
	}
	return open(path, opts)
}

// OpenInMemory opens a pebble database on an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebblekv: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Begin starts an indexed batch so reads inside the transaction observe its
// own writes. Only one transaction runs at a time.
func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writer.Lock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.writer.Unlock()
		return nil, kv.ErrClosed
	}
	return &tx{store: s, batch: s.db.NewIndexedBatch()}, nil
}

func (s *Store) Close() error {
	s.writer.Lock()
	defer s.writer.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type tx struct {
	store *Store
	batch *pebble.Batch
	done  bool
}

func (t *tx) Get(_ context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxDone
	}
	value, closer, err := t.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebblekv: get: %w", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (t *tx) Scan(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return kv.ErrTxDone
	}
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: kv.PrefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebblekv: new iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())

		val, err := iter.ValueAndErr()
		if err != nil {
			return fmt.Errorf("pebblekv: iterator value: %w", err)
		}
		value := make([]byte, len(val))
		copy(value, val)

		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (t *tx) Put(_ context.Context, key, value []byte) error {
	if t.done {
		return kv.ErrTxDone
	}
	return t.batch.Set(key, value, nil)
}

func (t *tx) Delete(_ context.Context, key []byte) error {
	if t.done {
		return kv.ErrTxDone
	}
	return t.batch.Delete(key, nil)
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return kv.ErrTxDone
	}
	err := t.batch.Commit(pebble.Sync)
	t.finish()
	if err != nil {
		return fmt.Errorf("pebblekv: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	_ = t.batch.Close()
	t.store.writer.Unlock()
}
