// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Compile-time interface check.
var _ store.PatternStore = (*PatternStore)(nil)

// PatternStore implements store.PatternStore backed by SQLite.
//
// The UNIQUE(partition_id, type, description) constraint is what makes the
// maintenance pipeline idempotent: re-running a job over an already-processed
// period reinforces existing patterns instead of duplicating them.
type PatternStore struct {
	db *sql.DB
}

// NewPatternStore opens (or creates) a SQLite database at dbPath and
// initialises the learning pattern table.
func NewPatternStore(dbPath string) (*PatternStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migratePatterns(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating pattern table: %w", err)
	}

	return &PatternStore{db: db}, nil
}

func migratePatterns(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS learning_patterns (
	id               TEXT PRIMARY KEY,
	partition_id     TEXT NOT NULL,
	type             TEXT NOT NULL,
	description      TEXT NOT NULL,
	examples         TEXT NOT NULL DEFAULT '[]',
	confidence       REAL NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 1,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE(partition_id, type, description)
);

CREATE INDEX IF NOT EXISTS idx_patterns_partition ON learning_patterns(partition_id, type);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (p *PatternStore) Close() error {
	return p.db.Close()
}

// maxPatternConfidence caps reinforcement so repeated observation saturates.
const maxPatternConfidence = 0.99

func (p *PatternStore) Reinforce(ctx context.Context, pattern *store.LearningPattern) error {
	if !pattern.Type.Valid() {
		return adverr.Wrapf(store.ErrInvalidInput, adverr.CodeStoreInvalidInput, "invalid pattern type %q", pattern.Type)
	}

	examples, err := json.Marshal(pattern.Examples)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "marshalling pattern examples: %w", err)
	}

	// Increment-or-create keyed on (partition_id, type, description).
	// On conflict the count rises, confidence nudges toward the cap, and
	// the example list is replaced with the most recent observation.
	const q = `INSERT INTO learning_patterns
(id, partition_id, type, description, examples, confidence, occurrence_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(partition_id, type, description) DO UPDATE SET
	occurrence_count = occurrence_count + 1,
	confidence = MIN(?, confidence + 0.05),
	examples = excluded.examples,
	updated_at = excluded.updated_at`

	_, err = p.db.ExecContext(ctx, q,
		pattern.ID,
		pattern.Partition,
		string(pattern.Type),
		pattern.Description,
		string(examples),
		pattern.Confidence,
		formatTime(pattern.CreatedAt),
		formatTime(pattern.UpdatedAt),
		maxPatternConfidence,
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "reinforcing pattern %q: %w", pattern.Description, err)
	}
	return nil
}

func (p *PatternStore) FindPatterns(ctx context.Context, query store.PatternQuery) ([]*store.LearningPattern, error) {
	q := `SELECT id, partition_id, type, description, examples, confidence, occurrence_count, created_at, updated_at
FROM learning_patterns WHERE partition_id = ?`
	args := []any{query.Partition}

	if query.Type != "" {
		q += ` AND type = ?`
		args = append(args, string(query.Type))
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY confidence DESC, occurrence_count DESC LIMIT ?`
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "finding patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []*store.LearningPattern
	for rows.Next() {
		var pat store.LearningPattern
		var examplesJSON, createdAt, updatedAt string

		if err := rows.Scan(
			&pat.ID,
			&pat.Partition,
			&pat.Type,
			&pat.Description,
			&examplesJSON,
			&pat.Confidence,
			&pat.OccurrenceCount,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning pattern row: %w", err)
		}

		if err := json.Unmarshal([]byte(examplesJSON), &pat.Examples); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "unmarshalling pattern examples: %w", err)
		}
		pat.CreatedAt = parseTime(createdAt)
		pat.UpdatedAt = parseTime(updatedAt)
		patterns = append(patterns, &pat)
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating patterns: %w", err)
	}

	return patterns, nil
}
