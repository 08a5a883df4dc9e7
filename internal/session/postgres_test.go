package session

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, q := range []string{
		"SELECT value FROM flowrunner_kv",
		"INSERT INTO flowrunner_kv .* ON CONFLICT \\(key\\) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL",
		"INSERT INTO flowrunner_kv .* ON CONFLICT \\(key\\) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at",
		"DELETE FROM flowrunner_kv",
		"DELETE FROM flowrunner_list",
		"INSERT INTO flowrunner_list",
		"SELECT value FROM flowrunner_list",
		"INSERT INTO flowrunner_kv .* ON CONFLICT \\(key\\) DO UPDATE SET value = \\(CAST",
	} {
		mock.ExpectPrepare(q)
	}

	store := &PostgresStore{db: db}
	require.NoError(t, store.prepareStatements())
	return store, mock
}

func TestPostgresStoreGetHit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM flowrunner_kv").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("v"))

	v, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMiss(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM flowrunner_kv").
		WithArgs("k").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStoreSet(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO flowrunner_kv .* ON CONFLICT \\(key\\) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL").
		WithArgs("k", "v").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Set(context.Background(), "k", "v")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreIncr(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO flowrunner_kv .* ON CONFLICT \\(key\\) DO UPDATE SET value = \\(CAST").
		WithArgs("c").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("3"))

	v, err := store.Incr(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestPostgresStoreLRangeOrdersRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM flowrunner_list").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("a").AddRow("b").AddRow("c"))

	out, err := store.LRange(context.Background(), "k", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestPostgresStoreDelClearsBothTables(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM flowrunner_kv").WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM flowrunner_list").WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Del(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
