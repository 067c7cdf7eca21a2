// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package store

import "time"

// --- Knowledge types ---

// KnowledgeEntry is a single unit of promoted advisory knowledge within a
// partition. Entries are never deleted, only archived.
type KnowledgeEntry struct {
	ID                string
	Partition         string
	Content           string
	NormalizedContent string
	Category          string
	// Reliability is a 0-100 quality score assigned at creation time.
	Reliability int
	UsageCount  int
	LastUsed    time.Time
	Archived    bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KnowledgeGroup clusters semantic duplicates around a representative entry.
// The representative is the highest-reliability, most-used member.
type KnowledgeGroup struct {
	ID               string
	Partition        string
	RepresentativeID string
	DuplicateIDs     []string
	// SimilarityScores maps duplicate entry ID to its cosine similarity
	// against the representative at the time it was absorbed.
	SimilarityScores map[string]float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// --- Learning pattern types ---

// PatternType identifies which analyzer produced a learning pattern.
type PatternType string

const (
	PatternVocabulary PatternType = "vocabulary"
	PatternStructure  PatternType = "structure"
	PatternEmphasis   PatternType = "emphasis"
	PatternTone       PatternType = "tone"
	PatternLength     PatternType = "length"
)

// Valid reports whether the pattern type is a known analyzer output.
func (p PatternType) Valid() bool {
	switch p {
	case PatternVocabulary, PatternStructure, PatternEmphasis, PatternTone, PatternLength:
		return true
	default:
		return false
	}
}

// LearningPattern is a behavioral adjustment extracted from human edits.
// Patterns are keyed on (partition, type, description); re-observing one
// reinforces confidence and increments the occurrence count instead of
// creating a duplicate row.
type LearningPattern struct {
	ID              string
	Partition       string
	Type            PatternType
	Description     string
	Examples        []string
	Confidence      float64
	OccurrenceCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// --- Conversation turns ---

// Turn is one question/answer exchange recorded for later maintenance
// processing. EditedAnswer is non-empty when a human revised the answer
// before approval.
type Turn struct {
	ID           string
	Partition    string
	SessionID    string
	Question     string
	Answer       string
	EditedAnswer string
	Approved     bool
	CreatedAt    time.Time
}

// Edited reports whether a human revised the answer before approval.
func (t *Turn) Edited() bool {
	return t.EditedAnswer != "" && t.EditedAnswer != t.Answer
}

// --- Rate limiting ---

// RateLimitWindow is a per-caller sliding window counter.
type RateLimitWindow struct {
	Key         string
	Count       int
	WindowStart time.Time
	ResetAt     time.Time
}

// Expired reports whether the window can be deleted by the sweep.
func (w *RateLimitWindow) Expired(now time.Time) bool {
	return w.ResetAt.Before(now)
}

// --- Batch jobs ---

// JobStatus is the lifecycle state of a batch maintenance job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobProgress tracks how far a running job has advanced, so external
// observers can poll completion without re-deriving state.
type JobProgress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Step       string  `json:"step"`
}

// Period is a half-open [Start, End) time range a job operates over.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BatchJob records one execution of the maintenance pipeline.
// Mutated only by the owning job execution; terminal once completed or failed.
type BatchJob struct {
	ID           string
	Type         string
	Status       JobStatus
	Progress     JobProgress
	TargetPeriod Period
	// Cursor is the last processed record ID within the current step,
	// persisted at chunk boundaries so a time-boxed run can resume.
	Cursor    string
	Result    map[string]any
	Errors    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// --- Security events ---

// SecurityEventKind classifies an audit record.
type SecurityEventKind string

const (
	SecurityEventInjectionAttempt SecurityEventKind = "injection_attempt"
	SecurityEventForbiddenOutput  SecurityEventKind = "forbidden_output"
)

// SecurityEvent is an append-only audit record of a blocked input or output.
type SecurityEvent struct {
	ID        string
	Kind      SecurityEventKind
	RawInput  string
	ActorID   string
	Timestamp time.Time
}

// --- Usage records ---

// UsageRecord captures the token counters of one vendor call, persisted for
// cost reporting. Immutable once written.
type UsageRecord struct {
	ID               string
	SessionID        string
	Model            string
	InputTokens      int
	CacheWriteTokens int
	CacheReadTokens  int
	OutputTokens     int
	CreatedAt        time.Time
}

// --- Vector types ---

// VectorResult is a single result from a vector similarity search.
type VectorResult struct {
	ID string
	// Distance is the vec0 L2 distance; lower = more similar, 0.0 = exact.
	Distance  float64
	Partition string
}

// --- Query options ---

// EntryQuery filters knowledge entry listings.
type EntryQuery struct {
	Partition string
	Category  string
	// IncludeArchived includes archived entries in results.
	IncludeArchived bool
	Limit           int
}

// PatternQuery filters learning pattern listings.
type PatternQuery struct {
	Partition string
	Type      PatternType
	Limit     int
}
