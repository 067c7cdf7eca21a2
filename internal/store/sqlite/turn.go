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
var _ store.TurnStore = (*TurnStore)(nil)

// TurnStore implements store.TurnStore backed by SQLite.
type TurnStore struct {
	db *sql.DB
}

// NewTurnStore opens (or creates) a SQLite database at dbPath and
// initialises the turns table.
func NewTurnStore(dbPath string) (*TurnStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateTurns(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating turns table: %w", err)
	}

	return &TurnStore{db: db}, nil
}

func migrateTurns(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
	id            TEXT PRIMARY KEY,
	partition_id  TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	edited_answer TEXT NOT NULL DEFAULT '',
	approved      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_partition_time ON turns(partition_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_turns_time ON turns(created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (t *TurnStore) Close() error {
	return t.db.Close()
}

func (t *TurnStore) Append(ctx context.Context, turn *store.Turn) error {
	const q = `INSERT INTO turns (id, partition_id, session_id, question, answer, edited_answer, approved, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.ExecContext(ctx, q,
		turn.ID,
		turn.Partition,
		turn.SessionID,
		turn.Question,
		turn.Answer,
		turn.EditedAnswer,
		boolToInt(turn.Approved),
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "appending turn %s: %w", turn.ID, err)
	}
	return nil
}

// GetRange pages approved turns within [from, to) ordered by (created_at, id).
// The (created_at, id) tuple of afterID is the resume cursor; a stable
// ordering is what makes chunked maintenance runs resumable.
func (t *TurnStore) GetRange(ctx context.Context, partition string, from, to time.Time, afterID string, limit int) ([]*store.Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT id, partition_id, session_id, question, answer, edited_answer, approved, created_at
FROM turns
WHERE partition_id = ? AND approved = 1 AND created_at >= ? AND created_at < ?`
	args := []any{partition, formatTime(from), formatTime(to)}

	if afterID != "" {
		q += ` AND (created_at, id) > (SELECT created_at, id FROM turns WHERE id = ?)`
		args = append(args, afterID)
	}

	q += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "getting turn range for %s: %w", partition, err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*store.Turn
	for rows.Next() {
		var turn store.Turn
		var approved int
		var createdAt string

		if err := rows.Scan(
			&turn.ID,
			&turn.Partition,
			&turn.SessionID,
			&turn.Question,
			&turn.Answer,
			&turn.EditedAnswer,
			&approved,
			&createdAt,
		); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning turn row: %w", err)
		}

		turn.Approved = approved != 0
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating turns: %w", err)
	}

	return turns, nil
}

func (t *TurnStore) Partitions(ctx context.Context, from, to time.Time) ([]string, error) {
	const q = `SELECT DISTINCT partition_id FROM turns
WHERE approved = 1 AND created_at >= ? AND created_at < ?
ORDER BY partition_id`

	rows, err := t.db.QueryContext(ctx, q, formatTime(from), formatTime(to))
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "listing active partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var partitions []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning partition: %w", err)
		}
		partitions = append(partitions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating partitions: %w", err)
	}

	return partitions, nil
}
