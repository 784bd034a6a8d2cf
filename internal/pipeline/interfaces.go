package pipeline

import (
	"context"
	"time"
)

// JobStore persists job records. Implementations enforce the lifecycle
// invariants: terminal states are frozen and progress never decreases.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// StartStep transitions the job to processing (idempotent if already
	// processing) and records the step about to run.
	StartStep(ctx context.Context, jobID string, step StepName, progress int, etaSeconds int) error
	// SetProgress advances the progress percentage after a step succeeds.
	SetProgress(ctx context.Context, jobID string, progress int) error
	// CompleteJob finalizes a job with its artifact reference.
	CompleteJob(ctx context.Context, jobID string, resultRef string, durationMinutes int) error
	// FailJob finalizes a job with a human-readable cause.
	FailJob(ctx context.Context, jobID string, errText string) error
}

// CounterStore is the atomic increment primitive backing rate limiting.
// Increment returns the post-increment count plus the counter's expiry.
// All mutation goes through Increment; callers never read-then-write.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, reset time.Time, err error)
	Reset(ctx context.Context, prefix string) error
}

// BlobStore writes completed artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StepRunner executes one pipeline step against external collaborators.
// Runners read and append to state; they never touch the job store.
type StepRunner interface {
	Run(ctx context.Context, job Job, state *StepState) error
}

// Hasher computes digests for artifact paths and integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
