package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yieldera/advisor/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	sqliteRetries   = 3
	sqliteBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Backend on a local SQLite database.
// Expiry is stored as unix milliseconds; NULL means no expiry.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas are applied per pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_counters_expires ON counters(expires_at) WHERE expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at) WHERE expires_at IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Name implements Backend.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) expiresAt(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}

// Incr implements Counters with a single upsert so concurrent callers never
// observe the same value. An expired row restarts at 1 with a fresh expiry.
func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	query := `
	INSERT INTO counters (key, value, expires_at) VALUES (?, 1, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = CASE
			WHEN counters.expires_at IS NOT NULL AND counters.expires_at <= ? THEN 1
			ELSE counters.value + 1
		END,
		expires_at = CASE
			WHEN counters.expires_at IS NOT NULL AND counters.expires_at <= ? THEN excluded.expires_at
			ELSE counters.expires_at
		END
	RETURNING value`

	var value int64
	err := shared.RetryOnConflict(ctx, "counter incr", sqliteRetries, sqliteBaseDelay, func() error {
		now := s.nowMillis()
		return s.db.QueryRowContext(ctx, query, key, s.expiresAt(ttl), now, now).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return value, nil
}

// Value implements Counters.
func (s *SQLiteStore) Value(ctx context.Context, key string) (int64, error) {
	query := `SELECT value FROM counters WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`

	var value int64
	err := s.db.QueryRowContext(ctx, query, key, s.nowMillis()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return value, nil
}

// Put implements Counters.
func (s *SQLiteStore) Put(ctx context.Context, key string, v int64, ttl time.Duration) error {
	query := `
	INSERT INTO counters (key, value, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		expires_at = excluded.expires_at`

	err := shared.RetryOnConflict(ctx, "counter put", sqliteRetries, sqliteBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, key, v, s.expiresAt(ttl))
		return err
	})
	if err != nil {
		return fmt.Errorf("put counter %s: %w", key, err)
	}
	return nil
}

// Keys implements Counters using SQLite GLOB, which shares Redis' * and ? syntax.
func (s *SQLiteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	query := `
		SELECT key FROM counters
		WHERE key GLOB ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, pattern, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("query counter keys: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close counter key rows", "error", closeErr)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan counter key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter keys: %w", err)
	}
	return keys, nil
}

// Get implements Values.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT payload FROM cache_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key, s.nowMillis()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return payload, nil
}

// Set implements Values.
func (s *SQLiteStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	query := `
	INSERT INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		expires_at = excluded.expires_at`

	err := shared.RetryOnConflict(ctx, "cache set", sqliteRetries, sqliteBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, key, payload, s.expiresAt(ttl))
		return err
	})
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes expired counters and cache entries.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.nowMillis()
	var total int64
	for _, table := range []string{"counters", "cache_entries"} {
		query := `DELETE FROM ` + table + ` WHERE expires_at IS NOT NULL AND expires_at <= ?`
		var affected int64
		err := shared.RetryOnConflict(ctx, "sweep "+table, sqliteRetries, sqliteBaseDelay, func() error {
			res, err := s.db.ExecContext(ctx, query, now)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return total, fmt.Errorf("delete expired %s: %w", table, err)
		}
		total += affected
	}
	return total, nil
}
