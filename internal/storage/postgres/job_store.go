// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists job records in Postgres.
//
// Assumed schema:
//
//	CREATE TABLE jobs (
//	    id                TEXT PRIMARY KEY,
//	    subject_id        TEXT NOT NULL,
//	    url               TEXT NOT NULL,
//	    status            TEXT NOT NULL,
//	    progress          INT NOT NULL DEFAULT 0,
//	    current_step      TEXT NOT NULL DEFAULT '',
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    updated_at        TIMESTAMPTZ NOT NULL,
//	    estimated_seconds INT NOT NULL DEFAULT 0,
//	    error_text        TEXT NOT NULL DEFAULT '',
//	    result_ref        TEXT NOT NULL DEFAULT '',
//	    completed_at      TIMESTAMPTZ,
//	    options           JSONB NOT NULL DEFAULT '{}',
//	    duration_minutes  INT NOT NULL DEFAULT 0
//	);
type JobStore struct {
	pool  querier
	clock pipeline.Clock
}

// NewJobStore connects a pgx pool to the job table.
func NewJobStore(ctx context.Context, dsn string, clock pipeline.Clock) (*JobStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// NewJobStoreWithPool wraps an existing pool; used by tests.
func NewJobStoreWithPool(pool querier, clock pipeline.Clock) *JobStore {
	return &JobStore{pool: pool, clock: clock}
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	query := `
		INSERT INTO jobs (
			id, subject_id, url, status, progress, current_step,
			created_at, updated_at, estimated_seconds, error_text,
			result_ref, options, duration_minutes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.SubjectID, job.URL, string(job.Status), job.Progress,
		string(job.CurrentStep), job.CreatedAt, job.UpdatedAt,
		job.EstimatedSeconds, job.ErrorText, job.ResultRef, opts,
		job.DurationMinutes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return pipeline.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	query := `
		SELECT id, subject_id, url, status, progress, current_step,
		       created_at, updated_at, estimated_seconds, error_text,
		       result_ref, completed_at, options, duration_minutes
		FROM jobs WHERE id = $1
	`
	var (
		job         pipeline.Job
		status      string
		step        string
		completedAt *time.Time
		opts        []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.SubjectID, &job.URL, &status, &job.Progress, &step,
		&job.CreatedAt, &job.UpdatedAt, &job.EstimatedSeconds,
		&job.ErrorText, &job.ResultRef, &completedAt, &opts,
		&job.DurationMinutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, pipeline.ErrNotFound
		}
		return pipeline.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = pipeline.JobStatus(status)
	job.CurrentStep = pipeline.StepName(step)
	job.CompletedAt = completedAt
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &job.Options); err != nil {
			return pipeline.Job{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return job, nil
}

// StartStep transitions the job to processing. The status guard in the WHERE
// clause enforces the terminal freeze; GREATEST keeps progress monotonic.
func (s *JobStore) StartStep(ctx context.Context, jobID string, step pipeline.StepName, progress int, etaSeconds int) error {
	query := `
		UPDATE jobs
		SET status = 'processing', current_step = $2,
		    progress = GREATEST(progress, $3), estimated_seconds = $4,
		    updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := s.pool.Exec(ctx, query, jobID, string(step), progress, etaSeconds, s.clock.Now())
	if err != nil {
		return fmt.Errorf("start step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrTerminal
	}
	return nil
}

// SetProgress advances the progress percentage.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $2), updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := s.pool.Exec(ctx, query, jobID, progress, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrTerminal
	}
	return nil
}

// CompleteJob freezes the job in completed status.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, resultRef string, durationMinutes int) error {
	now := s.clock.Now()
	query := `
		UPDATE jobs
		SET status = 'completed', progress = 100, current_step = '',
		    estimated_seconds = 0, result_ref = $2, duration_minutes = $3,
		    completed_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := s.pool.Exec(ctx, query, jobID, resultRef, durationMinutes, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrTerminal
	}
	return nil
}

// FailJob freezes the job in failed status.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', current_step = '', estimated_seconds = 0,
		    error_text = $2, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := s.pool.Exec(ctx, query, jobID, errText, s.clock.Now())
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrTerminal
	}
	return nil
}
