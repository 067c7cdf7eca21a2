// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Compile-time interface check.
var _ store.RateLimitStore = (*RateLimitStore)(nil)

// RateLimitStore implements store.RateLimitStore backed by SQLite.
type RateLimitStore struct {
	db *sql.DB
}

// NewRateLimitStore opens (or creates) a SQLite database at dbPath and
// initialises the rate limit window table.
func NewRateLimitStore(dbPath string) (*RateLimitStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateRateLimits(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating rate limit table: %w", err)
	}

	return &RateLimitStore{db: db}, nil
}

func migrateRateLimits(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rate_limit_windows (
	key          TEXT PRIMARY KEY,
	count        INTEGER NOT NULL,
	window_start TEXT NOT NULL,
	reset_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_windows_reset ON rate_limit_windows(reset_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (r *RateLimitStore) Close() error {
	return r.db.Close()
}

func (r *RateLimitStore) Get(ctx context.Context, key string) (*store.RateLimitWindow, error) {
	const q = `SELECT key, count, window_start, reset_at FROM rate_limit_windows WHERE key = ?`

	var window store.RateLimitWindow
	var windowStart, resetAt string

	err := r.db.QueryRowContext(ctx, q, key).Scan(&window.Key, &window.Count, &windowStart, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound, "rate limit window %s", key)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "getting rate limit window %s: %w", key, err)
	}

	window.WindowStart = parseTime(windowStart)
	window.ResetAt = parseTime(resetAt)
	return &window, nil
}

func (r *RateLimitStore) Put(ctx context.Context, window *store.RateLimitWindow) error {
	const q = `INSERT INTO rate_limit_windows (key, count, window_start, reset_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	count = excluded.count,
	window_start = excluded.window_start,
	reset_at = excluded.reset_at`

	_, err := r.db.ExecContext(ctx, q,
		window.Key,
		window.Count,
		formatTime(window.WindowStart),
		formatTime(window.ResetAt),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "putting rate limit window %s: %w", window.Key, err)
	}
	return nil
}

func (r *RateLimitStore) Increment(ctx context.Context, key string) (int, error) {
	const q = `UPDATE rate_limit_windows SET count = count + 1 WHERE key = ? RETURNING count`

	var count int
	err := r.db.QueryRowContext(ctx, q, key).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound, "rate limit window %s", key)
	}
	if err != nil {
		return 0, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "incrementing rate limit window %s: %w", key, err)
	}
	return count, nil
}

func (r *RateLimitStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM rate_limit_windows WHERE reset_at < ?`

	result, err := r.db.ExecContext(ctx, q, formatTime(now))
	if err != nil {
		return 0, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "sweeping expired windows: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "checking swept row count: %w", err)
	}
	return deleted, nil
}
