// Package kvtest is a conformance suite run against every kv.Store backend.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/kv"
)

// Run exercises the kv.Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store kv.Store)
	}{
		{name: "basic_put_get", fn: testBasicPutGet},
		{name: "rollback_discards_writes", fn: testRollback},
		{name: "read_your_writes", fn: testReadYourWrites},
		{name: "prefix_scan", fn: testPrefixScan},
		{name: "delete_prefix", fn: testDeletePrefix},
		{name: "rollback_after_commit", fn: testRollbackAfterCommit},
		{name: "version_stamp", fn: testVersionStamp},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			tc.fn(t, store)
		})
	}
}

func testBasicPutGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := kv.Key("test", "key")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, key, []byte("value")))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := tx.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	_, err = tx.Get(ctx, kv.Key("missing"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testRollback(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := kv.Key("rollback")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, key, []byte("x")))
	require.NoError(t, tx.Rollback(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	_, err = tx.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testReadYourWrites(t *testing.T, store kv.Store) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	key := kv.Key("ryw")
	require.NoError(t, tx.Put(ctx, key, []byte("1")))
	got, err := tx.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, tx.Delete(ctx, key))
	_, err = tx.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPrefixScan(t *testing.T, store kv.Store) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, kv.Key("bond", kv.Num(1), kv.Num(2)), []byte("b")))
	require.NoError(t, tx.Put(ctx, kv.Key("bond", kv.Num(1), kv.Num(1)), []byte("a")))
	require.NoError(t, tx.Put(ctx, kv.Key("bond", kv.Num(10), kv.Num(1)), []byte("other")))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// uncommitted write is visible to the scan
	require.NoError(t, tx.Put(ctx, kv.Key("bond", kv.Num(1), kv.Num(3)), []byte("c")))

	var values []string
	err = tx.Scan(ctx, kv.Key("bond", kv.Num(1)), func(_, v []byte) error {
		values = append(values, string(v))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, values)
}

func testDeletePrefix(t *testing.T, store kv.Store) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, kv.Key("fee", "1", "a"), []byte("1")))
	require.NoError(t, tx.Put(ctx, kv.Key("fee", "1", "b"), []byte("2")))
	require.NoError(t, tx.Put(ctx, kv.Key("fee", "2", "a"), []byte("3")))

	n, err := kv.DeletePrefix(ctx, tx, kv.Key("fee", "1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	ok, err := kv.Exists(ctx, tx, kv.Key("fee", "2", "a"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = kv.Exists(ctx, tx, kv.Key("fee", "1", "a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRollbackAfterCommit(t *testing.T, store kv.Store) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, kv.Key("k"), []byte("v")))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, tx.Rollback(ctx))

	// the writer slot was released, so a new transaction can start
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func testVersionStamp(t *testing.T, store kv.Store) {
	ctx := context.Background()
	v, err := kv.EnsureVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, kv.FormatVersion, v)

	v, err = kv.EnsureVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, kv.FormatVersion, v)
}
