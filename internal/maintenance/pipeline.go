// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package maintenance owns the recurring knowledge-base upkeep job: pattern
// extraction from human edits, duplicate merging, and archival of stale
// entries. Work is chunked with a persisted cursor so a time-boxed run can
// resume where it stopped.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adviso-dev/adviso/internal/dedup"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// JobTypeWeekly is the standard maintenance job covering recent activity.
const JobTypeWeekly = "weekly_maintenance"

const (
	// DefaultChunkSize is how many turns are processed between checkpoints.
	DefaultChunkSize = 50
	// DefaultArchiveAfter is how long an entry may go unused before the
	// sweep archives it.
	DefaultArchiveAfter = 90 * 24 * time.Hour
)

// Step names reported through job progress.
const (
	StepFetchWindow   = "fetch_window"
	StepPartitions    = "partition_processing"
	StepArchivalSweep = "archival_sweep"
	StepStatistics    = "statistics_update"
)

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	ChunkSize    int
	ArchiveAfter time.Duration
}

// Pipeline executes batch maintenance jobs.
type Pipeline struct {
	turns     store.TurnStore
	knowledge store.KnowledgeStore
	patterns  store.PatternStore
	jobs      store.JobStore
	engine    *dedup.Engine
	logger    *slog.Logger

	chunkSize    int
	archiveAfter time.Duration
	nowFunc      func() time.Time
}

// NewPipeline wires the pipeline over its stores and the dedup engine.
func NewPipeline(turns store.TurnStore, knowledge store.KnowledgeStore, patterns store.PatternStore, jobs store.JobStore, engine *dedup.Engine, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = DefaultArchiveAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		turns:        turns,
		knowledge:    knowledge,
		patterns:     patterns,
		jobs:         jobs,
		engine:       engine,
		logger:       logger,
		chunkSize:    cfg.ChunkSize,
		archiveAfter: cfg.ArchiveAfter,
		nowFunc:      time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (p *Pipeline) SetNowFunc(f func() time.Time) {
	p.nowFunc = f
}

// Trigger creates a queued job for the period, unless one of the same type
// is already queued or processing, in which case it returns a conflict
// carrying the active job's ID.
func (p *Pipeline) Trigger(ctx context.Context, jobType string, period store.Period) (*store.BatchJob, error) {
	if period.Start.IsZero() || period.End.IsZero() || !period.Start.Before(period.End) {
		return nil, adverr.New(adverr.CodeMaintenancePeriodInvalid,
			"target period start must precede end",
			adverr.Field("start", period.Start), adverr.Field("end", period.End))
	}

	active, err := p.jobs.ActiveJob(ctx, jobType)
	switch {
	case err == nil:
		return nil, adverr.New(adverr.CodeMaintenanceJobConflict,
			"a job of this type is already in flight",
			adverr.FieldJobID(active.ID))
	case !adverr.IsNotFound(err):
		return nil, err
	}

	now := p.nowFunc().UTC()
	job := &store.BatchJob{
		ID:           uuid.NewString(),
		Type:         jobType,
		Status:       store.JobStatusQueued,
		TargetPeriod: period,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RunScheduled triggers and runs a weekly job over the trailing seven days.
// An already-active job makes this a no-op: the scheduler fires at-least-once
// and an overlapping invocation must not double-run.
func (p *Pipeline) RunScheduled(ctx context.Context) error {
	now := p.nowFunc().UTC()
	job, err := p.Trigger(ctx, JobTypeWeekly, store.Period{Start: now.Add(-7 * 24 * time.Hour), End: now})
	if err != nil {
		if adverr.IsConflict(err) {
			p.logger.Info("maintenance job already in flight, skipping scheduled run")
			return nil
		}
		return err
	}
	return p.Run(ctx, job.ID)
}

// Run executes the job to a terminal state, resuming from the persisted
// cursor when the job was interrupted mid-period. Running a terminal job is
// a no-op.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Status = store.JobStatusProcessing
	if err := p.checkpoint(ctx, job, StepFetchWindow, 0, 0); err != nil {
		return err
	}

	stats := &runStats{}
	if err := p.execute(ctx, job, stats); err != nil {
		job.Status = store.JobStatusFailed
		job.Errors = append(job.Errors, err.Error())
		job.UpdatedAt = p.nowFunc().UTC()
		if updateErr := p.jobs.UpdateJob(ctx, job); updateErr != nil {
			p.logger.Error("failed to persist job failure", "job_id", job.ID, "error", updateErr)
		}
		return err
	}

	job.Status = store.JobStatusCompleted
	job.Cursor = ""
	job.Result = stats.result()
	return p.checkpoint(ctx, job, StepStatistics, job.Progress.Total, job.Progress.Total)
}

type runStats struct {
	partitions         int
	turnsProcessed     int
	patternsReinforced int
	exact              int
	semantic           int
	distinct           int
	archived           int64
}

func (s *runStats) result() map[string]any {
	return map[string]any{
		"partitions":         s.partitions,
		"turnsProcessed":     s.turnsProcessed,
		"patternsReinforced": s.patternsReinforced,
		"exactMatches":       s.exact,
		"semanticMatches":    s.semantic,
		"distinctEntries":    s.distinct,
		"entriesArchived":    s.archived,
	}
}

func (p *Pipeline) execute(ctx context.Context, job *store.BatchJob, stats *runStats) error {
	period := job.TargetPeriod

	partitions, err := p.turns.Partitions(ctx, period.Start, period.End)
	if err != nil {
		return adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "listing partitions for period")
	}
	stats.partitions = len(partitions)

	// A resumed job skips partitions already completed; the cursor names
	// the partition in flight and the last turn applied within it. If that
	// partition is no longer in the period's listing, the cursor is stale
	// and the run starts over rather than skipping every partition.
	cursorPartition, cursorAfter := splitCursor(job.Cursor)
	skipping := cursorPartition != "" && slices.Contains(partitions, cursorPartition)
	if cursorPartition != "" && !skipping {
		p.logger.Warn("cursor partition missing from period, restarting run",
			"job_id", job.ID, "partition", cursorPartition)
		cursorPartition, cursorAfter = "", ""
	}

	for i, partition := range partitions {
		if skipping {
			if partition != cursorPartition {
				continue
			}
			skipping = false
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		afterID := ""
		if partition == cursorPartition {
			afterID = cursorAfter
		}

		if err := p.processPartition(ctx, job, partition, afterID, i, len(partitions), stats); err != nil {
			// Partition failures are isolated: recorded, not fatal.
			job.Errors = append(job.Errors, fmt.Sprintf("partition %s: %v", partition, err))
			p.logger.Warn("partition processing failed",
				"job_id", job.ID, "partition", partition, "error", err)
		}

		job.Cursor = ""
		if err := p.checkpoint(ctx, job, StepPartitions, i+1, len(partitions)); err != nil {
			return err
		}
	}

	if err := p.checkpoint(ctx, job, StepArchivalSweep, len(partitions), len(partitions)); err != nil {
		return err
	}
	cutoff := p.nowFunc().UTC().Add(-p.archiveAfter)
	archived, err := p.knowledge.ArchiveUnusedSince(ctx, cutoff)
	if err != nil {
		return adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "archival sweep")
	}
	stats.archived = archived

	return nil
}

func (p *Pipeline) processPartition(ctx context.Context, job *store.BatchJob, partition, afterID string, index, total int, stats *runStats) error {
	period := job.TargetPeriod

	for {
		turns, err := p.turns.GetRange(ctx, partition, period.Start, period.End, afterID, p.chunkSize)
		if err != nil {
			return adverr.Wrap(err, adverr.CodeMaintenancePartitionStepFailed, "fetching turns",
				adverr.FieldPartition(partition))
		}
		if len(turns) == 0 {
			return nil
		}

		for _, turn := range turns {
			if err := p.processTurn(ctx, turn, stats); err != nil {
				// Per-turn failures degrade to a recorded error for the
				// partition but do not stop the chunk.
				job.Errors = append(job.Errors, fmt.Sprintf("partition %s turn %s: %v", partition, turn.ID, err))
			}
			stats.turnsProcessed++
		}

		afterID = turns[len(turns)-1].ID
		job.Cursor = joinCursor(partition, afterID)
		if err := p.checkpoint(ctx, job, StepPartitions, index, total); err != nil {
			return err
		}

		if len(turns) < p.chunkSize {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (p *Pipeline) processTurn(ctx context.Context, turn *store.Turn, stats *runStats) error {
	if turn.Edited() {
		for _, candidate := range ExtractPatterns(turn.Answer, turn.EditedAnswer) {
			pattern := &store.LearningPattern{
				ID:          uuid.NewString(),
				Partition:   turn.Partition,
				Type:        candidate.Type,
				Description: candidate.Description,
				Examples:    []string{candidate.Example},
				Confidence:  candidate.Confidence,
			}
			if err := p.patterns.Reinforce(ctx, pattern); err != nil {
				return adverr.Wrap(err, adverr.CodeMaintenancePartitionStepFailed, "reinforcing pattern",
					adverr.FieldPartition(turn.Partition))
			}
			stats.patternsReinforced++
		}
	}

	content := turn.Answer
	if turn.Edited() {
		content = turn.EditedAnswer
	}
	outcome, err := p.engine.Classify(ctx, dedup.Candidate{
		Partition:   turn.Partition,
		Content:     content,
		Edited:      turn.Edited(),
		ResponseLen: len(content),
	})
	if err != nil {
		return err
	}
	switch outcome.Tier {
	case dedup.TierExact:
		stats.exact++
	case dedup.TierSemantic:
		stats.semantic++
	case dedup.TierDistinct:
		stats.distinct++
	}
	return nil
}

func (p *Pipeline) checkpoint(ctx context.Context, job *store.BatchJob, step string, current, total int) error {
	job.Progress.Step = step
	job.Progress.Current = current
	job.Progress.Total = total
	if total > 0 {
		job.Progress.Percentage = float64(current) / float64(total) * 100
	} else {
		job.Progress.Percentage = 100
	}
	job.UpdatedAt = p.nowFunc().UTC()
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		return adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "checkpointing job",
			adverr.FieldJobID(job.ID))
	}
	return nil
}

const cursorSeparator = "\x1f"

func joinCursor(partition, afterID string) string {
	return partition + cursorSeparator + afterID
}

func splitCursor(cursor string) (partition, afterID string) {
	partition, afterID, _ = strings.Cut(cursor, cursorSeparator)
	return partition, afterID
}
