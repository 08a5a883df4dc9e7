package session

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig configures a PostgresStore connection, grounded on the
// donor's internal/sessions CockroachConfig texture (CockroachDB speaks
// the Postgres wire protocol, so the same driver and DSN shape apply).
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane local-development defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "flowrunner",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store against a single flat key/value table
// plus an ordered list table, backing the session store contract without
// committing the schema to anything richer than spec.md §4.9 requires.
type PostgresStore struct {
	db *sql.DB

	stmtGet    *sql.Stmt
	stmtSet    *sql.Stmt
	stmtSetEx  *sql.Stmt
	stmtDelKV  *sql.Stmt
	stmtDelList *sql.Stmt
	stmtRPush  *sql.Stmt
	stmtLRange *sql.Stmt
	stmtIncr   *sql.Stmt
}

// Schema is the DDL PostgresStore expects to already exist; callers run
// this once during provisioning (the flow engine itself never issues
// DDL at runtime).
const Schema = `
CREATE TABLE IF NOT EXISTS flowrunner_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS flowrunner_list (
	key TEXT NOT NULL,
	idx BIGSERIAL PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS flowrunner_list_key_idx ON flowrunner_list (key, idx);
`

// NewPostgresStore opens a connection pool and prepares every statement
// PostgresStore needs, failing fast if the database is unreachable.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
	return NewPostgresStoreFromDSN(dsn, cfg)
}

// NewPostgresStoreFromDSN opens a connection pool from a raw DSN.
func NewPostgresStoreFromDSN(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error
	s.stmtGet, err = s.db.Prepare(`SELECT value FROM flowrunner_kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`)
	if err != nil {
		return fmt.Errorf("session: prepare get: %w", err)
	}
	s.stmtSet, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES ($1, $2, NULL)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL
	`)
	if err != nil {
		return fmt.Errorf("session: prepare set: %w", err)
	}
	s.stmtSetEx, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`)
	if err != nil {
		return fmt.Errorf("session: prepare setex: %w", err)
	}
	s.stmtDelKV, err = s.db.Prepare(`DELETE FROM flowrunner_kv WHERE key = $1`)
	if err != nil {
		return fmt.Errorf("session: prepare del kv: %w", err)
	}
	s.stmtDelList, err = s.db.Prepare(`DELETE FROM flowrunner_list WHERE key = $1`)
	if err != nil {
		return fmt.Errorf("session: prepare del list: %w", err)
	}
	s.stmtRPush, err = s.db.Prepare(`INSERT INTO flowrunner_list (key, value) VALUES ($1, $2)`)
	if err != nil {
		return fmt.Errorf("session: prepare rpush: %w", err)
	}
	s.stmtLRange, err = s.db.Prepare(`SELECT value FROM flowrunner_list WHERE key = $1 ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("session: prepare lrange: %w", err)
	}
	s.stmtIncr, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES ($1, '1', NULL)
		ON CONFLICT (key) DO UPDATE SET value = (CAST(flowrunner_kv.value AS BIGINT) + 1)::text
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("session: prepare incr: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.stmtGet.QueryRowContext(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: get: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.stmtSet.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("session: set: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if _, err := s.stmtSetEx.ExecContext(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("session: setex: %w", err)
	}
	return nil
}

func (s *PostgresStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.stmtDelKV.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("session: del kv: %w", err)
		}
		if _, err := s.stmtDelList.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("session: del list: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RPush(ctx context.Context, key string, values ...string) error {
	for _, v := range values {
		if _, err := s.stmtRPush.ExecContext(ctx, key, v); err != nil {
			return fmt.Errorf("session: rpush: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	rows, err := s.stmtLRange.QueryContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session: lrange: %w", err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("session: lrange scan: %w", err)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: lrange rows: %w", err)
	}
	return sliceRange(all, start, stop), nil
}

func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var value string
	if err := s.stmtIncr.QueryRowContext(ctx, key).Scan(&value); err != nil {
		return 0, fmt.Errorf("session: incr: %w", err)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: incr parse: %w", err)
	}
	return v, nil
}

// sliceRange applies Redis-style LRANGE start/stop semantics (negative
// stop means "to the end") to an in-memory slice already fetched in
// order.
func sliceRange(all []string, start, stop int) []string {
	n := len(all)
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, all[start:stop+1])
	return out
}
