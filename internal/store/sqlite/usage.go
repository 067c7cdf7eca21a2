// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Compile-time interface check.
var _ store.UsageStore = (*UsageStore)(nil)

// UsageStore implements store.UsageStore backed by SQLite.
type UsageStore struct {
	db *sql.DB
}

// NewUsageStore opens (or creates) a SQLite database at dbPath and
// initialises the usage record table.
func NewUsageStore(dbPath string) (*UsageStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateUsage(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating usage table: %w", err)
	}

	return &UsageStore{db: db}, nil
}

func migrateUsage(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS usage_records (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	model              TEXT NOT NULL,
	input_tokens       INTEGER NOT NULL,
	cache_write_tokens INTEGER NOT NULL,
	cache_read_tokens  INTEGER NOT NULL,
	output_tokens      INTEGER NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records(created_at);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (u *UsageStore) Close() error {
	return u.db.Close()
}

func (u *UsageStore) Append(ctx context.Context, record *store.UsageRecord) error {
	const q = `INSERT INTO usage_records
	(id, session_id, model, input_tokens, cache_write_tokens, cache_read_tokens, output_tokens, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := u.db.ExecContext(ctx, q,
		record.ID,
		record.SessionID,
		record.Model,
		record.InputTokens,
		record.CacheWriteTokens,
		record.CacheReadTokens,
		record.OutputTokens,
		formatTime(record.CreatedAt),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "appending usage record: %w", err)
	}
	return nil
}

// Sum aggregates token counters over [from, to). The returned record carries
// only the counter fields.
func (u *UsageStore) Sum(ctx context.Context, from, to time.Time) (*store.UsageRecord, error) {
	const q = `SELECT
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(cache_write_tokens), 0),
	COALESCE(SUM(cache_read_tokens), 0),
	COALESCE(SUM(output_tokens), 0)
FROM usage_records WHERE created_at >= ? AND created_at < ?`

	var sum store.UsageRecord
	err := u.db.QueryRowContext(ctx, q, formatTime(from), formatTime(to)).Scan(
		&sum.InputTokens,
		&sum.CacheWriteTokens,
		&sum.CacheReadTokens,
		&sum.OutputTokens,
	)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "summing usage records: %w", err)
	}
	return &sum, nil
}
