package kv

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps everything in a map. One transaction runs at a time;
// writes are buffered in the transaction and applied on Commit.
type MemoryStore struct {
	writer sync.Mutex

	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writer.Lock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.writer.Unlock()
		return nil, ErrClosed
	}
	return &memTx{store: s, writes: make(map[string][]byte)}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of committed keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memTx struct {
	store *MemoryStore
	// a nil value marks a delete
	writes map[string][]byte
	done   bool
}

func (t *memTx) Get(_ context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if v, ok := t.writes[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	v, ok := t.store.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memTx) Scan(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxDone
	}
	p := string(prefix)
	merged := make(map[string][]byte)

	t.store.mu.RLock()
	for k, v := range t.store.data {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	t.store.mu.RUnlock()

	for k, v := range t.writes {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) Put(_ context.Context, key, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (t *memTx) Delete(_ context.Context, key []byte) error {
	if t.done {
		return ErrTxDone
	}
	t.writes[string(key)] = nil
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.store.mu.Lock()
	for k, v := range t.writes {
		if v == nil {
			delete(t.store.data, k)
			continue
		}
		t.store.data[k] = v
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.writes = nil
	t.store.writer.Unlock()
}
