// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Compile-time interface check.
var _ store.JobStore = (*JobStore)(nil)

// JobStore implements store.JobStore backed by SQLite.
type JobStore struct {
	db *sql.DB
}

// NewJobStore opens (or creates) a SQLite database at dbPath and initialises
// the batch job table.
func NewJobStore(dbPath string) (*JobStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateJobs(db); err != nil {
		_ = db.Close()
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "migrating job table: %w", err)
	}

	return &JobStore{db: db}, nil
}

func migrateJobs(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	progress     TEXT NOT NULL DEFAULT '{}',
	period_start TEXT NOT NULL,
	period_end   TEXT NOT NULL,
	cursor       TEXT NOT NULL DEFAULT '',
	result       TEXT NOT NULL DEFAULT '{}',
	errors       TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON batch_jobs(type, status);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (j *JobStore) Close() error {
	return j.db.Close()
}

const jobColumns = `id, type, status, progress, period_start, period_end, cursor, result, errors, created_at, updated_at`

func (j *JobStore) CreateJob(ctx context.Context, job *store.BatchJob) error {
	progress, result, errList, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	const q = `INSERT INTO batch_jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = j.db.ExecContext(ctx, q,
		job.ID,
		job.Type,
		string(job.Status),
		progress,
		formatTime(job.TargetPeriod.Start),
		formatTime(job.TargetPeriod.End),
		job.Cursor,
		result,
		errList,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return adverr.Wrapf(store.ErrConflict, adverr.CodeStoreConflict, "job %s already exists", job.ID)
		}
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "creating job %s: %w", job.ID, err)
	}
	return nil
}

func (j *JobStore) GetJob(ctx context.Context, id string) (*store.BatchJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM batch_jobs WHERE id = ?`

	job, err := scanJob(j.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "getting job %s: %w", id, err)
	}
	return job, nil
}

func (j *JobStore) UpdateJob(ctx context.Context, job *store.BatchJob) error {
	progress, result, errList, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	const q = `UPDATE batch_jobs SET
	status = ?, progress = ?, cursor = ?, result = ?, errors = ?, updated_at = ?
WHERE id = ?`

	res, err := j.db.ExecContext(ctx, q,
		string(job.Status),
		progress,
		job.Cursor,
		result,
		errList,
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "updating job %s: %w", job.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return adverr.Errorf(adverr.CodeStoreDatabaseFailure, "checking job update: %w", err)
	}
	if affected == 0 {
		return adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreJobNotFound, "job %s", job.ID)
	}
	return nil
}

func (j *JobStore) ActiveJob(ctx context.Context, jobType string) (*store.BatchJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM batch_jobs
WHERE type = ? AND status IN ('queued', 'processing')
ORDER BY created_at DESC LIMIT 1`

	job, err := scanJob(j.db.QueryRowContext(ctx, q, jobType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreJobNotFound, "no active %s job", jobType)
	}
	if err != nil {
		return nil, adverr.Errorf(adverr.CodeStoreDatabaseFailure, "finding active %s job: %w", jobType, err)
	}
	return job, nil
}

func marshalJobJSON(job *store.BatchJob) (progress, result, errList string, err error) {
	p, err := json.Marshal(job.Progress)
	if err != nil {
		return "", "", "", adverr.Errorf(adverr.CodeStoreInvalidInput, "marshaling job progress: %w", err)
	}

	res := job.Result
	if res == nil {
		res = map[string]any{}
	}
	r, err := json.Marshal(res)
	if err != nil {
		return "", "", "", adverr.Errorf(adverr.CodeStoreInvalidInput, "marshaling job result: %w", err)
	}

	errs := job.Errors
	if errs == nil {
		errs = []string{}
	}
	e, err := json.Marshal(errs)
	if err != nil {
		return "", "", "", adverr.Errorf(adverr.CodeStoreInvalidInput, "marshaling job errors: %w", err)
	}

	return string(p), string(r), string(e), nil
}

func scanJob(row scanner) (*store.BatchJob, error) {
	var job store.BatchJob
	var status, progress, periodStart, periodEnd, result, errList, createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&job.Type,
		&status,
		&progress,
		&periodStart,
		&periodEnd,
		&job.Cursor,
		&result,
		&errList,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = store.JobStatus(status)
	job.TargetPeriod.Start = parseTime(periodStart)
	job.TargetPeriod.End = parseTime(periodEnd)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(progress), &job.Progress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &job.Result); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(errList), &job.Errors); err != nil {
		return nil, err
	}
	return &job, nil
}
