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
var _ store.AuditStore = (*AuditStore)(nil)

// AuditStore implements store.AuditStore backed by SQLite. The table is
// append-only; nothing deletes or mutates rows.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) a SQLite database at dbPath and
// initialises the security event table.
func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateAudit(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating audit table: %w", err)
	}

	return &AuditStore{db: db}, nil
}

func migrateAudit(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS security_events (
	id        TEXT PRIMARY KEY,
	kind      TEXT NOT NULL,
	raw_input TEXT NOT NULL,
	actor_id  TEXT NOT NULL,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_kind_time ON security_events(kind, timestamp);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (a *AuditStore) Close() error {
	return a.db.Close()
}

func (a *AuditStore) Append(ctx context.Context, event *store.SecurityEvent) error {
	const q = `INSERT INTO security_events (id, kind, raw_input, actor_id, timestamp)
VALUES (?, ?, ?, ?, ?)`

	_, err := a.db.ExecContext(ctx, q,
		event.ID,
		string(event.Kind),
		event.RawInput,
		event.ActorID,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeSecurityAuditWriteFailure, "appending security event: %w", err)
	}
	return nil
}

func (a *AuditStore) Query(ctx context.Context, kind store.SecurityEventKind, from, to time.Time, limit int) ([]*store.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, kind, raw_input, actor_id, timestamp FROM security_events
WHERE kind = ? AND timestamp >= ? AND timestamp < ?
ORDER BY timestamp DESC LIMIT ?`

	rows, err := a.db.QueryContext(ctx, q, string(kind), formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "querying security events: %w", err)
	}
	defer rows.Close()

	var events []*store.SecurityEvent
	for rows.Next() {
		var ev store.SecurityEvent
		var kindStr, ts string
		if err := rows.Scan(&ev.ID, &kindStr, &ev.RawInput, &ev.ActorID, &ts); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning security event: %w", err)
		}
		ev.Kind = store.SecurityEventKind(kindStr)
		ev.Timestamp = parseTime(ts)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating security events: %w", err)
	}
	return events, nil
}
