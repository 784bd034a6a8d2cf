// Package memory provides in-process store implementations for
// single-instance deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// JobStore keeps job records in a mutex-guarded map. The orchestrator is the
// only writer per job; polling readers take the read lock and never block it
// for long.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]pipeline.Job
	clock pipeline.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock pipeline.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]pipeline.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return pipeline.ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return job, nil
}

// StartStep transitions the job to processing and records the running step.
func (s *JobStore) StartStep(_ context.Context, jobID string, step pipeline.StepName, progress int, etaSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return pipeline.ErrTerminal
	}
	job.Status = pipeline.JobStatusProcessing
	job.CurrentStep = step
	if progress > job.Progress {
		job.Progress = progress
	}
	job.EstimatedSeconds = etaSeconds
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// SetProgress advances progress; decreases are ignored, never applied.
func (s *JobStore) SetProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return pipeline.ErrTerminal
	}
	if progress > job.Progress {
		job.Progress = progress
		job.UpdatedAt = s.clock.Now()
		s.jobs[jobID] = job
	}
	return nil
}

// CompleteJob freezes the job in completed status with its artifact ref.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, resultRef string, durationMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return pipeline.ErrTerminal
	}
	now := s.clock.Now()
	job.Status = pipeline.JobStatusCompleted
	job.Progress = 100
	job.CurrentStep = ""
	job.EstimatedSeconds = 0
	job.ResultRef = resultRef
	job.DurationMinutes = durationMinutes
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

// FailJob freezes the job in failed status with a human-readable cause.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return pipeline.ErrTerminal
	}
	job.Status = pipeline.JobStatusFailed
	job.CurrentStep = ""
	job.EstimatedSeconds = 0
	job.ErrorText = errText
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}
