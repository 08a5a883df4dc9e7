package session

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store against a local SQLite file, for the CLI
// surface (cmd/flowrunner) and single-node deployments that don't need a
// shared Postgres cluster. Same schema and query shape as PostgresStore,
// adjusted for SQLite's upsert and autoincrement syntax.
type SQLiteStore struct {
	db *sql.DB

	stmtGet     *sql.Stmt
	stmtSet     *sql.Stmt
	stmtSetEx   *sql.Stmt
	stmtDelKV   *sql.Stmt
	stmtDelList *sql.Stmt
	stmtRPush   *sql.Stmt
	stmtLRange  *sql.Stmt
	stmtIncr    *sql.Stmt
}

// SQLiteSchema is the DDL SQLiteStore expects, mirroring PostgresStore's
// Schema.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS flowrunner_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at DATETIME
);
CREATE TABLE IF NOT EXISTS flowrunner_list (
	key TEXT NOT NULL,
	idx INTEGER PRIMARY KEY AUTOINCREMENT,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS flowrunner_list_key_idx ON flowrunner_list (key, idx);
`

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers per connection

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: apply sqlite schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.stmtGet, err = s.db.Prepare(`SELECT value FROM flowrunner_kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`)
	if err != nil {
		return fmt.Errorf("session: prepare get: %w", err)
	}
	s.stmtSet, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES (?, ?, NULL)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = NULL
	`)
	if err != nil {
		return fmt.Errorf("session: prepare set: %w", err)
	}
	s.stmtSetEx, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("session: prepare setex: %w", err)
	}
	s.stmtDelKV, err = s.db.Prepare(`DELETE FROM flowrunner_kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("session: prepare del kv: %w", err)
	}
	s.stmtDelList, err = s.db.Prepare(`DELETE FROM flowrunner_list WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("session: prepare del list: %w", err)
	}
	s.stmtRPush, err = s.db.Prepare(`INSERT INTO flowrunner_list (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("session: prepare rpush: %w", err)
	}
	s.stmtLRange, err = s.db.Prepare(`SELECT value FROM flowrunner_list WHERE key = ? ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("session: prepare lrange: %w", err)
	}
	s.stmtIncr, err = s.db.Prepare(`
		INSERT INTO flowrunner_kv (key, value, expires_at) VALUES (?, '1', NULL)
		ON CONFLICT(key) DO UPDATE SET value = CAST((CAST(flowrunner_kv.value AS INTEGER) + 1) AS TEXT)
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("session: prepare incr: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.stmtGet.QueryRowContext(ctx, key, time.Now().UTC()).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: get: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.stmtSet.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("session: set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if _, err := s.stmtSetEx.ExecContext(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("session: setex: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Del(ctx context.Context, keys ...string) error {
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

func (s *SQLiteStore) RPush(ctx context.Context, key string, values ...string) error {
	for _, v := range values {
		if _, err := s.stmtRPush.ExecContext(ctx, key, v); err != nil {
			return fmt.Errorf("session: rpush: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
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

func (s *SQLiteStore) Incr(ctx context.Context, key string) (int64, error) {
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
