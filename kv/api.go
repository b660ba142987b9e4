// Package kv is the transactional key-value repository every component
// stores its records in. A command opens one Tx, reads and writes through it,
// and commits once, so all records it touches change together or not at all.
package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrClosed   = errors.New("kv: store is closed")
	ErrTxDone   = errors.New("kv: transaction already finished")
)

// Reader is the read half of a transaction.
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Scan calls fn for every key starting with prefix, in ascending key order.
	// Returning an error from fn stops the scan and returns that error.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
}

// Tx is a read-write transaction. Rollback after Commit is a no-op so callers
// can always defer it.
type Tx interface {
	Reader
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store hands out transactions. Implementations serialize writers.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
