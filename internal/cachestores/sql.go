package cachestores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	// SQL drivers for the postgres and mysql stores
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/systmms/kvref/pkg/cachestore"
)

// DefaultTable is the table used by the SQL stores when none is configured.
const DefaultTable = "kvref_cache"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect selects placeholder and upsert syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// driverMap maps configured database types to database/sql driver names.
var driverMap = map[string]Dialect{
	"postgres":   DialectPostgres,
	"postgresql": DialectPostgres,
	"mysql":      DialectMySQL,
	"mariadb":    DialectMySQL,
}

// SQLConfig holds connection settings for the SQL stores.
type SQLConfig struct {
	Type  string // postgres, postgresql, mysql or mariadb
	DSN   string
	Table string
}

// SQLStore keeps cache entries in a table with the columns cache_key,
// cache_value and expiration (unix seconds, 0 for no expiry).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time
}

// NewSQLStore opens a database connection for the configured type.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	dialect, ok := driverMap[strings.ToLower(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s store: dsn is required", dialect)
	}
	db, err := sql.Open(string(dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	store, err := NewSQLStoreFromDB(db, dialect, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an open database handle.
func NewSQLStoreFromDB(db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid cache table name: %q", table)
	}
	if dialect != DialectPostgres && dialect != DialectMySQL {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
	return &SQLStore{db: db, dialect: dialect, table: table, now: time.Now}, nil
}

// EnsureSchema creates the cache table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	valueType := "BYTEA"
	if s.dialect == DialectMySQL {
		valueType = "LONGBLOB"
	}
	query := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (cache_key VARCHAR(512) PRIMARY KEY, cache_value %s NOT NULL, expiration BIGINT NOT NULL)",
		s.table, valueType,
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf("SELECT cache_value, expiration FROM %s WHERE cache_key = %s", s.table, s.placeholder(1))

	var (
		value      []byte
		expiration int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cachestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cache entry %s: %w", key, err)
	}
	if expiration > 0 && s.now().Unix() >= expiration {
		return nil, cachestore.ErrNotFound
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiration int64
	if ttl > 0 {
		expiration = s.now().Add(ttl).Unix()
	}

	var query string
	switch s.dialect {
	case DialectPostgres:
		query = fmt.Sprintf(
			"INSERT INTO %s (cache_key, cache_value, expiration) VALUES ($1, $2, $3) "+
				"ON CONFLICT (cache_key) DO UPDATE SET cache_value = EXCLUDED.cache_value, expiration = EXCLUDED.expiration",
			s.table,
		)
	case DialectMySQL:
		query = fmt.Sprintf(
			"INSERT INTO %s (cache_key, cache_value, expiration) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE cache_value = VALUES(cache_value), expiration = VALUES(expiration)",
			s.table,
		)
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, expiration); err != nil {
		return fmt.Errorf("store cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE cache_key = %s", s.table, s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// Purge removes expired entries and returns how many were deleted.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expiration > 0 AND expiration <= %s", s.table, s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var _ cachestore.Store = (*SQLStore)(nil)
