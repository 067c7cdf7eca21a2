// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package store

import (
	"context"
	"time"
)

// KnowledgeStore manages knowledge entries and duplicate groups.
type KnowledgeStore interface {
	PutEntry(ctx context.Context, entry *KnowledgeEntry) error
	GetEntry(ctx context.Context, id string) (*KnowledgeEntry, error)
	// FindByNormalizedContent performs the exact-tier lookup within a partition.
	FindByNormalizedContent(ctx context.Context, partition, normalized string) (*KnowledgeEntry, error)
	FindEntries(ctx context.Context, query EntryQuery) ([]*KnowledgeEntry, error)
	// RecordUse increments usage count and advances last-used atomically.
	RecordUse(ctx context.Context, id string, when time.Time) error
	// ArchiveUnusedSince marks entries unused since cutoff as archived and
	// returns how many were flipped. Entries are never deleted.
	ArchiveUnusedSince(ctx context.Context, cutoff time.Time) (int64, error)

	PutGroup(ctx context.Context, group *KnowledgeGroup) error
	GetGroupByRepresentative(ctx context.Context, representativeID string) (*KnowledgeGroup, error)
	// AbsorbDuplicate records dupID as a semantic duplicate of the
	// representative, creating the group on first use.
	AbsorbDuplicate(ctx context.Context, partition, representativeID, dupID string, similarity float64) error

	Close() error
}

// PatternStore manages learning patterns with increment-or-create semantics.
type PatternStore interface {
	// Reinforce upserts keyed on (partition, type, description): an existing
	// pattern gains occurrence count and confidence, a new one is created.
	Reinforce(ctx context.Context, pattern *LearningPattern) error
	FindPatterns(ctx context.Context, query PatternQuery) ([]*LearningPattern, error)
	Close() error
}

// TurnStore records conversation turns for maintenance processing.
type TurnStore interface {
	Append(ctx context.Context, turn *Turn) error
	// GetRange returns approved turns within [from, to) for one partition,
	// ordered by creation time then ID, starting after afterID when non-empty.
	GetRange(ctx context.Context, partition string, from, to time.Time, afterID string, limit int) ([]*Turn, error)
	// Partitions lists the distinct partitions with activity in [from, to).
	Partitions(ctx context.Context, from, to time.Time) ([]string, error)
	Close() error
}

// RateLimitStore persists sliding-window counters.
type RateLimitStore interface {
	Get(ctx context.Context, key string) (*RateLimitWindow, error)
	Put(ctx context.Context, window *RateLimitWindow) error
	// Increment bumps the counter and returns the new count.
	Increment(ctx context.Context, key string) (int, error)
	// DeleteExpired removes windows whose reset time has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// JobStore persists batch maintenance jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *BatchJob) error
	GetJob(ctx context.Context, id string) (*BatchJob, error)
	UpdateJob(ctx context.Context, job *BatchJob) error
	// ActiveJob returns the queued or processing job of the given type,
	// or ErrNotFound when none is in flight.
	ActiveJob(ctx context.Context, jobType string) (*BatchJob, error)
	Close() error
}

// AuditStore is the append-only security event log.
type AuditStore interface {
	Append(ctx context.Context, event *SecurityEvent) error
	Query(ctx context.Context, kind SecurityEventKind, from, to time.Time, limit int) ([]*SecurityEvent, error)
	Close() error
}

// UsageStore persists per-call token usage records.
type UsageStore interface {
	Append(ctx context.Context, record *UsageRecord) error
	// Sum aggregates counters over [from, to).
	Sum(ctx context.Context, from, to time.Time) (*UsageRecord, error)
	Close() error
}

// VectorStore manages embedding storage and partition-scoped KNN search.
type VectorStore interface {
	Store(ctx context.Context, id string, embedding []float32, partition string) error
	Search(ctx context.Context, query []float32, k int, partition string) ([]VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
