package pipeline

import "errors"

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound reports an unknown job or usage record.
	ErrNotFound = errors.New("not found")
	// ErrJobExists reports a duplicate job id on creation.
	ErrJobExists = errors.New("job already exists")
	// ErrTerminal reports a mutation attempted on a completed or failed job.
	ErrTerminal = errors.New("job is terminal")
	// ErrStoreUnavailable reports an infrastructure fault in a backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
