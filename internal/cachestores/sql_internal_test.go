package cachestores

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvref/pkg/cachestore"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStoreFromDB(db, dialect, "")
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func TestSQLStoreGet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		dialect   Dialect
		setupMock func(mock sqlmock.Sqlmock)
		want      string
		wantErr   error
	}{
		{
			name:    "postgres hit",
			dialect: DialectPostgres,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_value, expiration FROM kvref_cache WHERE cache_key = $1")).
					WithArgs("k").
					WillReturnRows(sqlmock.NewRows([]string{"cache_value", "expiration"}).AddRow([]byte("v"), fixedNow.Unix()+60))
			},
			want: "v",
		},
		{
			name:    "mysql no expiry",
			dialect: DialectMySQL,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_value, expiration FROM kvref_cache WHERE cache_key = ?")).
					WithArgs("k").
					WillReturnRows(sqlmock.NewRows([]string{"cache_value", "expiration"}).AddRow([]byte("v"), 0))
			},
			want: "v",
		},
		{
			name:    "expired",
			dialect: DialectPostgres,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT cache_value").
					WillReturnRows(sqlmock.NewRows([]string{"cache_value", "expiration"}).AddRow([]byte("v"), fixedNow.Unix()))
			},
			wantErr: cachestore.ErrNotFound,
		},
		{
			name:    "missing",
			dialect: DialectPostgres,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT cache_value").WillReturnError(sql.ErrNoRows)
			},
			wantErr: cachestore.ErrNotFound,
		},
		{
			name:    "query failure",
			dialect: DialectMySQL,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT cache_value").WillReturnError(errors.New("connection reset"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t, tt.dialect)
			tt.setupMock(mock)

			got, err := store.Get(context.Background(), "k")
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.want == "":
				require.Error(t, err)
				assert.False(t, errors.Is(err, cachestore.ErrNotFound))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(got))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStoreSetUpserts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dialect Dialect
		query   string
	}{
		{
			dialect: DialectPostgres,
			query:   "INSERT INTO kvref_cache (cache_key, cache_value, expiration) VALUES ($1, $2, $3) ON CONFLICT (cache_key) DO UPDATE",
		},
		{
			dialect: DialectMySQL,
			query:   "INSERT INTO kvref_cache (cache_key, cache_value, expiration) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t, tt.dialect)

			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs("k", []byte("v"), fixedNow.Add(time.Hour).Unix()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs("forever", []byte("v"), int64(0)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Hour))
			require.NoError(t, store.Set(context.Background(), "forever", []byte("v"), 0))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStoreMaintenance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, mock := newMockStore(t, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS kvref_cache (cache_key VARCHAR(512) PRIMARY KEY, cache_value BYTEA NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kvref_cache WHERE cache_key = $1")).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kvref_cache WHERE expiration > 0 AND expiration <= $1")).
		WithArgs(fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Delete(ctx, "k"))
	purged, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreMySQLSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, DialectMySQL)
	mock.ExpectExec("cache_value LONGBLOB NOT NULL").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStoreFromDBValidation(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = NewSQLStoreFromDB(db, "sqlite", "")
	assert.Error(t, err)

	_, err = NewSQLStoreFromDB(db, DialectPostgres, "cache; DROP")
	assert.Error(t, err)

	_, err = NewSQLStore(SQLConfig{Type: "oracle", DSN: "x"})
	assert.Error(t, err)
}
