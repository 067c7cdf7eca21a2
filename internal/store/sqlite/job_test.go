// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/store"
	"github.com/adviso-dev/adviso/internal/store/sqlite"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

func testJob(id string, status store.JobStatus) *store.BatchJob {
	now := time.Now()
	return &store.BatchJob{
		ID:     id,
		Type:   "weekly_maintenance",
		Status: status,
		TargetPeriod: store.Period{
			Start: now.AddDate(0, 0, -7),
			End:   now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestJobStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	js, err := sqlite.NewJobStore(testDBPath(t, "jobs"))
	require.NoError(t, err)
	defer func() { _ = js.Close() }()

	job := testJob("job-1", store.JobStatusQueued)
	require.NoError(t, js.CreateJob(ctx, job))

	got, err := js.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, got.Status)
	assert.Empty(t, got.Cursor)
	assert.WithinDuration(t, job.TargetPeriod.Start, got.TargetPeriod.Start, time.Second)

	// Checkpoint mid-run: status, progress, and cursor all round-trip.
	got.Status = store.JobStatusProcessing
	got.Progress = store.JobProgress{Current: 2, Total: 6, Percentage: 33.3, Step: "analyze_patterns"}
	got.Cursor = "turn-0042"
	got.Result = map[string]any{"patterns_extracted": float64(3)}
	got.Errors = []string{"client-7: embedding failed"}
	got.UpdatedAt = time.Now()
	require.NoError(t, js.UpdateJob(ctx, got))

	reloaded, err := js.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusProcessing, reloaded.Status)
	assert.Equal(t, "turn-0042", reloaded.Cursor)
	assert.Equal(t, "analyze_patterns", reloaded.Progress.Step)
	assert.Equal(t, float64(3), reloaded.Result["patterns_extracted"])
	assert.Equal(t, []string{"client-7: embedding failed"}, reloaded.Errors)

	_, err = js.GetJob(ctx, "missing")
	require.Error(t, err)
	assert.True(t, adverr.IsNotFound(err))

	err = js.UpdateJob(ctx, testJob("missing", store.JobStatusFailed))
	require.Error(t, err)
	assert.True(t, adverr.IsNotFound(err))
}

func TestJobStore_CreateJob_DuplicateID(t *testing.T) {
	ctx := context.Background()
	js, err := sqlite.NewJobStore(testDBPath(t, "jobs-dup"))
	require.NoError(t, err)
	defer func() { _ = js.Close() }()

	require.NoError(t, js.CreateJob(ctx, testJob("job-1", store.JobStatusQueued)))

	err = js.CreateJob(ctx, testJob("job-1", store.JobStatusQueued))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.True(t, adverr.IsConflict(err))
}

func TestJobStore_ActiveJob(t *testing.T) {
	ctx := context.Background()
	js, err := sqlite.NewJobStore(testDBPath(t, "jobs-active"))
	require.NoError(t, err)
	defer func() { _ = js.Close() }()

	// No jobs yet.
	_, err = js.ActiveJob(ctx, "weekly_maintenance")
	require.Error(t, err)
	assert.True(t, adverr.IsNotFound(err))

	// Terminal jobs are not active.
	require.NoError(t, js.CreateJob(ctx, testJob("done", store.JobStatusCompleted)))
	require.NoError(t, js.CreateJob(ctx, testJob("dead", store.JobStatusFailed)))

	_, err = js.ActiveJob(ctx, "weekly_maintenance")
	assert.True(t, adverr.IsNotFound(err))

	require.NoError(t, js.CreateJob(ctx, testJob("running", store.JobStatusProcessing)))

	active, err := js.ActiveJob(ctx, "weekly_maintenance")
	require.NoError(t, err)
	assert.Equal(t, "running", active.ID)

	// Other job types do not shadow each other.
	_, err = js.ActiveJob(ctx, "archival_sweep")
	assert.True(t, adverr.IsNotFound(err))
}
