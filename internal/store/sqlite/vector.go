// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore backed by SQLite with sqlite-vec.
type VectorStore struct {
	db         *sql.DB
	dimensions int
}

// NewVectorStore opens (or creates) a SQLite database at dbPath and
// initialises the vec0 virtual table and companion partition table.
func NewVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateVector(db, dimensions); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating vector tables: %w", err)
	}

	return &VectorStore{db: db, dimensions: dimensions}, nil
}

func migrateVector(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating vectors virtual table: %w", err)
	}

	const partDDL = `
CREATE TABLE IF NOT EXISTS vector_partitions (
	id           TEXT PRIMARY KEY,
	partition_id TEXT NOT NULL
)`
	if _, err := db.Exec(partDDL); err != nil {
		return fmt.Errorf("creating vector_partitions table: %w", err)
	}

	return nil
}

// Store inserts or replaces a vector and its partition assignment.
func (v *VectorStore) Store(ctx context.Context, id string, embedding []float32, partition string) error {
	if len(embedding) != v.dimensions {
		return adverr.Errorf(adverr.CodeStoreInvalidInput,
			"embedding has %d dimensions, store expects %d", len(embedding), v.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreInvalidInput, "serializing embedding: %w", err)
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "deleting existing vector %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "inserting vector %s: %w", id, err)
	}

	const partQ = `INSERT INTO vector_partitions(id, partition_id) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET partition_id = excluded.partition_id`
	if _, err := tx.ExecContext(ctx, partQ, id, partition); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "upserting vector partition %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "committing vector store: %w", err)
	}
	return nil
}

// searchOverfetch widens the KNN so partition filtering still yields k
// results when the corpus spans multiple partitions.
const searchOverfetch = 4

// Search performs a k-nearest-neighbor search scoped to one partition.
// Distance is the vec0 L2 distance (lower = more similar); 0.0 = exact match.
func (v *VectorStore) Search(ctx context.Context, query []float32, k int, partition string) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, adverr.Errorf(adverr.CodeStoreInvalidInput, "k must be positive, got %d", k)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreInvalidInput, "serializing query vector: %w", err)
	}

	const q = `SELECT v.id, v.distance, COALESCE(p.partition_id, '')
FROM vectors v
LEFT JOIN vector_partitions p ON p.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, k*searchOverfetch)
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.VectorResult
	for rows.Next() {
		var r store.VectorResult
		if err := rows.Scan(&r.ID, &r.Distance, &r.Partition); err != nil {
			return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "scanning vector result: %w", err)
		}

		if partition != "" && r.Partition != partition {
			continue
		}

		results = append(results, r)
		if len(results) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "iterating vector results: %w", err)
	}

	return results, nil
}

// Delete removes vectors and their partition rows by ID.
func (v *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "deleting vectors: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_partitions WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "deleting vector partitions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "committing vector delete: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}
