// Package progress defines the lifecycle events emitted by the orchestrator
// and a non-blocking hub fanning them out to observability sinks. Events are
// advisory; the job store remains the source of truth for job state.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart  Stage = "JOB_START"
	StageStepStart Stage = "STEP_START"
	StageStepDone  Stage = "STEP_DONE"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
)

// Event captures a single orchestration milestone.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Step scopes step events to a pipeline step name.
	Step pipeline.StepName
	// Progress is the percentage after the milestone.
	Progress int
	// Dur captures execution latency for steps and completed jobs.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageStepStart, StageStepDone:
		if e.Step == "" {
			return errors.New("step events require a step name")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Progress < 0 || e.Progress > 100 {
		return errors.New("progress must be within 0-100")
	}
	return nil
}
