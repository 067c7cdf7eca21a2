// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
	"github.com/google/uuid"
)

// Compile-time interface check.
var _ store.KnowledgeStore = (*KnowledgeStore)(nil)

// KnowledgeStore implements store.KnowledgeStore backed by SQLite.
type KnowledgeStore struct {
	db *sql.DB
}

// NewKnowledgeStore opens (or creates) a SQLite database at dbPath and
// initialises the knowledge entry and group tables.
func NewKnowledgeStore(dbPath string) (*KnowledgeStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateKnowledge(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating knowledge tables: %w", err)
	}

	return &KnowledgeStore{db: db}, nil
}

func migrateKnowledge(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
	id                 TEXT PRIMARY KEY,
	partition_id       TEXT NOT NULL,
	content            TEXT NOT NULL,
	normalized_content TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	reliability        INTEGER NOT NULL,
	usage_count        INTEGER NOT NULL DEFAULT 0,
	last_used          TEXT NOT NULL DEFAULT '',
	archived           INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE(partition_id, normalized_content)
);

CREATE INDEX IF NOT EXISTS idx_entries_partition ON knowledge_entries(partition_id, archived);
CREATE INDEX IF NOT EXISTS idx_entries_last_used ON knowledge_entries(last_used);

CREATE TABLE IF NOT EXISTS knowledge_groups (
	id                TEXT PRIMARY KEY,
	partition_id      TEXT NOT NULL,
	representative_id TEXT NOT NULL UNIQUE,
	duplicate_ids     TEXT NOT NULL DEFAULT '[]',
	similarity_scores TEXT NOT NULL DEFAULT '{}',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_groups_partition ON knowledge_groups(partition_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (k *KnowledgeStore) Close() error {
	return k.db.Close()
}

func (k *KnowledgeStore) PutEntry(ctx context.Context, entry *store.KnowledgeEntry) error {
	const q = `INSERT INTO knowledge_entries
(id, partition_id, content, normalized_content, category, reliability, usage_count, last_used, archived, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	content = excluded.content,
	normalized_content = excluded.normalized_content,
	category = excluded.category,
	reliability = excluded.reliability,
	usage_count = excluded.usage_count,
	last_used = excluded.last_used,
	archived = excluded.archived,
	version = excluded.version,
	updated_at = excluded.updated_at`

	_, err := k.db.ExecContext(ctx, q,
		entry.ID,
		entry.Partition,
		entry.Content,
		entry.NormalizedContent,
		entry.Category,
		entry.Reliability,
		entry.UsageCount,
		formatTime(entry.LastUsed),
		boolToInt(entry.Archived),
		entry.Version,
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "putting knowledge entry %s: %w", entry.ID, err)
	}
	return nil
}

const entryColumns = `id, partition_id, content, normalized_content, category, reliability, usage_count, last_used, archived, version, created_at, updated_at`

func (k *KnowledgeStore) GetEntry(ctx context.Context, id string) (*store.KnowledgeEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM knowledge_entries WHERE id = ?`
	entry, err := scanEntry(k.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound, "knowledge entry %s", id)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "getting knowledge entry %s: %w", id, err)
	}
	return entry, nil
}

func (k *KnowledgeStore) FindByNormalizedContent(ctx context.Context, partition, normalized string) (*store.KnowledgeEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM knowledge_entries
WHERE partition_id = ? AND normalized_content = ? AND archived = 0`
	entry, err := scanEntry(k.db.QueryRowContext(ctx, q, partition, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound,
			"no entry with matching content in partition %s", partition)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "finding entry by content: %w", err)
	}
	return entry, nil
}

func (k *KnowledgeStore) FindEntries(ctx context.Context, query store.EntryQuery) ([]*store.KnowledgeEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM knowledge_entries WHERE partition_id = ?`
	args := []any{query.Partition}

	if query.Category != "" {
		q += ` AND category = ?`
		args = append(args, query.Category)
	}
	if !query.IncludeArchived {
		q += ` AND archived = 0`
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY usage_count DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := k.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "finding knowledge entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*store.KnowledgeEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning knowledge entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating knowledge entries: %w", err)
	}

	return entries, nil
}

func (k *KnowledgeStore) RecordUse(ctx context.Context, id string, when time.Time) error {
	const q = `UPDATE knowledge_entries
SET usage_count = usage_count + 1, last_used = ?, updated_at = ?
WHERE id = ?`

	result, err := k.db.ExecContext(ctx, q, formatTime(when), formatTime(when), id)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "recording use of entry %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "checking rows affected for entry %s: %w", id, err)
	}
	if rows == 0 {
		return adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound, "knowledge entry %s", id)
	}
	return nil
}

func (k *KnowledgeStore) ArchiveUnusedSince(ctx context.Context, cutoff time.Time) (int64, error) {
	// last_used is empty for never-used entries; fall back to created_at.
	const q = `UPDATE knowledge_entries
SET archived = 1, updated_at = ?
WHERE archived = 0
  AND CASE WHEN last_used = '' THEN created_at ELSE last_used END < ?`

	result, err := k.db.ExecContext(ctx, q, formatTime(time.Now()), formatTime(cutoff))
	if err != nil {
		return 0, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "archiving unused entries: %w", err)
	}

	archived, err := result.RowsAffected()
	if err != nil {
		return 0, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "checking archived row count: %w", err)
	}
	return archived, nil
}

func (k *KnowledgeStore) PutGroup(ctx context.Context, group *store.KnowledgeGroup) error {
	dupJSON, err := json.Marshal(group.DuplicateIDs)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "marshalling duplicate ids: %w", err)
	}
	scoreJSON, err := json.Marshal(group.SimilarityScores)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "marshalling similarity scores: %w", err)
	}

	const q = `INSERT INTO knowledge_groups
(id, partition_id, representative_id, duplicate_ids, similarity_scores, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(representative_id) DO UPDATE SET
	duplicate_ids = excluded.duplicate_ids,
	similarity_scores = excluded.similarity_scores,
	updated_at = excluded.updated_at`

	_, err = k.db.ExecContext(ctx, q,
		group.ID,
		group.Partition,
		group.RepresentativeID,
		string(dupJSON),
		string(scoreJSON),
		formatTime(group.CreatedAt),
		formatTime(group.UpdatedAt),
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "putting knowledge group %s: %w", group.ID, err)
	}
	return nil
}

func (k *KnowledgeStore) GetGroupByRepresentative(ctx context.Context, representativeID string) (*store.KnowledgeGroup, error) {
	const q = `SELECT id, partition_id, representative_id, duplicate_ids, similarity_scores, created_at, updated_at
FROM knowledge_groups WHERE representative_id = ?`

	var group store.KnowledgeGroup
	var dupJSON, scoreJSON, createdAt, updatedAt string

	err := k.db.QueryRowContext(ctx, q, representativeID).Scan(
		&group.ID,
		&group.Partition,
		&group.RepresentativeID,
		&dupJSON,
		&scoreJSON,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound,
			"no group for representative %s", representativeID)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "getting knowledge group: %w", err)
	}

	if err := json.Unmarshal([]byte(dupJSON), &group.DuplicateIDs); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "unmarshalling duplicate ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scoreJSON), &group.SimilarityScores); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "unmarshalling similarity scores: %w", err)
	}
	group.CreatedAt = parseTime(createdAt)
	group.UpdatedAt = parseTime(updatedAt)

	return &group, nil
}

func (k *KnowledgeStore) AbsorbDuplicate(ctx context.Context, partition, representativeID, dupID string, similarity float64) error {
	group, err := k.GetGroupByRepresentative(ctx, representativeID)
	if err != nil {
		if !adverr.IsNotFound(err) {
			return err
		}
		now := time.Now()
		group = &store.KnowledgeGroup{
			ID:               uuid.New().String(),
			Partition:        partition,
			RepresentativeID: representativeID,
			SimilarityScores: make(map[string]float64),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	for _, existing := range group.DuplicateIDs {
		if existing == dupID {
			group.SimilarityScores[dupID] = similarity
			group.UpdatedAt = time.Now()
			return k.PutGroup(ctx, group)
		}
	}

	group.DuplicateIDs = append(group.DuplicateIDs, dupID)
	if group.SimilarityScores == nil {
		group.SimilarityScores = make(map[string]float64)
	}
	group.SimilarityScores[dupID] = similarity
	group.UpdatedAt = time.Now()

	return k.PutGroup(ctx, group)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*store.KnowledgeEntry, error) {
	var entry store.KnowledgeEntry
	var lastUsed, createdAt, updatedAt string
	var archived int

	if err := s.Scan(
		&entry.ID,
		&entry.Partition,
		&entry.Content,
		&entry.NormalizedContent,
		&entry.Category,
		&entry.Reliability,
		&entry.UsageCount,
		&lastUsed,
		&archived,
		&entry.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	entry.LastUsed = parseTime(lastUsed)
	entry.Archived = archived != 0
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updatedAt)
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
