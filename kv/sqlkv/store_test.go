package sqlkv

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/kv"
	"disputeflow/kv/kvtest"
)

func TestStore_SQLite(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		store, err := Open(context.Background(), ":memory:")
		require.NoError(t, err)
		return store
	})
}

func TestStore_BeginFailureReleasesWriter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	_, err = store.Begin(ctx)
	require.Error(t, err)

	// a second Begin must not deadlock on the writer mutex
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value FROM kv_entries").
		WithArgs([]byte("absent")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Get(ctx, []byte("absent"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs([]byte("k"), []byte("v")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.Put(ctx, []byte("k"), []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlkv: put")
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("constraint failed"))

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.Error(t, tx.Commit(ctx))
	// rollback after a failed commit is a no-op
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
