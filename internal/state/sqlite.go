// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Durable single-host backend with automatic schema creation

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface on a local SQLite database.
// SetNX/HSetNX atomicity rides on INSERT OR IGNORE, which either inserts the
// row or reports zero rows affected.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "state")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS kv_hash (
			key   TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (key, field)
		);

		CREATE TABLE IF NOT EXISTS kv_list (
			key   TEXT NOT NULL,
			pos   INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (key, pos)
		);

		CREATE INDEX IF NOT EXISTS idx_kv_list_key ON kv_list(key, pos);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_hash WHERE key = ? AND field = ?", key, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	return v, nil
}

func (s *SQLiteStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT field, value FROM kv_hash WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		out[f] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return out, nil
}

func (s *SQLiteStore) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?) ON CONFLICT(key, field) DO UPDATE SET value = excluded.value",
		key, field, value)
	if err != nil {
		return fmt.Errorf("hset %s %s: %w", key, field, err)
	}
	return nil
}

func (s *SQLiteStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO kv_hash (key, field, value) VALUES (?, ?, ?)",
		key, field, value)
	if err != nil {
		return false, fmt.Errorf("hsetnx %s %s: %w", key, field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s %s: %w", key, field, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) HCompareAndSet(ctx context.Context, key, field, prev, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE kv_hash SET value = ? WHERE key = ? AND field = ? AND value = ?",
		next, key, field, prev)
	if err != nil {
		return false, fmt.Errorf("hcas %s %s: %w", key, field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hcas %s %s: %w", key, field, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	for _, f := range fields {
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM kv_hash WHERE key = ? AND field = ?", key, f); err != nil {
			return fmt.Errorf("hdel %s %s: %w", key, f, err)
		}
	}
	return nil
}

func (s *SQLiteStore) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	defer tx.Rollback()

	for _, v := range values {
		// Head of the list is the lowest position.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_list (key, pos, value)
			 VALUES (?, (SELECT COALESCE(MIN(pos), 0) - 1 FROM kv_list WHERE key = ?), ?)`,
			key, key, v)
		if err != nil {
			return fmt.Errorf("lpush %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	n, err := s.listLen(ctx, key)
	if err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	lo, hi := clampRange(start, stop, n)
	if lo >= hi {
		_, err := s.db.ExecContext(ctx, "DELETE FROM kv_list WHERE key = ?", key)
		if err != nil {
			return fmt.Errorf("ltrim %s: %w", key, err)
		}
		return nil
	}
	// Keep rows whose rank (ordered by pos) falls inside [lo, hi).
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM kv_list WHERE key = ?1 AND pos NOT IN (
			SELECT pos FROM kv_list WHERE key = ?1 ORDER BY pos LIMIT ?2 OFFSET ?3
		)`, key, hi-lo, lo)
	if err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	n, err := s.listLen(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	lo, hi := clampRange(start, stop, n)
	if lo >= hi {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT value FROM kv_list WHERE key = ? ORDER BY pos LIMIT ? OFFSET ?",
		key, hi-lo, lo)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	defer rows.Close()

	out := make([]string, 0, hi-lo)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("lrange %s: %w", key, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return out, nil
}

func (s *SQLiteStore) listLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM kv_list WHERE key = ?", key).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
