// Package orchestrator drives each job through the fixed processing pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/progress"
	"github.com/studylens/video-pipeline/internal/quota"
)

// Step binds a pipeline step to its runner, timeout, and a coarse advisory
// duration used for time-remaining estimates.
type Step struct {
	Name       pipeline.StepName
	Runner     pipeline.StepRunner
	Timeout    time.Duration
	ETASeconds int
}

// Config controls artifact placement and completion publishing.
type Config struct {
	ArtifactPrefix      string
	ArtifactContentType string
	Topic               string
}

// Orchestrator owns job lifecycle transitions. Each admitted job runs on its
// own goroutine; steps within a job execute strictly in order, and only the
// orchestrator writes to the job store for that job.
type Orchestrator struct {
	jobs      pipeline.JobStore
	ledger    *quota.Ledger
	blobs     pipeline.BlobStore
	publisher pipeline.Publisher
	hasher    pipeline.Hasher
	clock     pipeline.Clock
	emitter   progress.Emitter
	steps     []Step
	cfg       Config
	logger    *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New constructs an Orchestrator. Jobs launched after baseCtx is canceled
// fail their first step and finalize as failed.
func New(
	baseCtx context.Context,
	jobs pipeline.JobStore,
	ledger *quota.Ledger,
	blobs pipeline.BlobStore,
	publisher pipeline.Publisher,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	emitter progress.Emitter,
	steps []Step,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if cfg.ArtifactContentType == "" {
		cfg.ArtifactContentType = "application/json"
	}
	return &Orchestrator{
		jobs:      jobs,
		ledger:    ledger,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		emitter:   emitter,
		steps:     steps,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
	}
}

// Launch starts background execution for an admitted job and returns
// immediately. There is no queue: admission is the only backpressure on new
// job starts.
func (o *Orchestrator) Launch(job pipeline.Job) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runJob(o.baseCtx, job)
	}()
}

// Wait blocks until every launched job has finalized. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// TotalETASeconds sums the advisory step durations; the API reports it as the
// initial time estimate for a new job.
func (o *Orchestrator) TotalETASeconds() int {
	return o.etaFrom(0)
}

func (o *Orchestrator) etaFrom(i int) int {
	total := 0
	for _, step := range o.steps[i:] {
		total += step.ETASeconds
	}
	return total
}

func (o *Orchestrator) runJob(ctx context.Context, job pipeline.Job) {
	start := o.clock.Now()
	o.emit(progress.Event{JobID: job.ID, TS: start, Stage: progress.StageJobStart})

	state := &pipeline.StepState{}
	total := len(o.steps)

	for i, step := range o.steps {
		if err := o.jobs.StartStep(ctx, job.ID, step.Name, i*100/total, o.etaFrom(i)); err != nil {
			o.logger.Error("start step failed",
				zap.String("job_id", job.ID),
				zap.String("step", string(step.Name)),
				zap.Error(err),
			)
			if errors.Is(err, pipeline.ErrTerminal) || errors.Is(err, pipeline.ErrNotFound) {
				return
			}
		}
		o.emit(progress.Event{
			JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageStepStart,
			Step: step.Name, Progress: i * 100 / total,
		})

		stepStart := o.clock.Now()
		if err := o.runStep(ctx, step, job, state); err != nil {
			o.failJob(ctx, job, start, fmt.Sprintf("%s: %v", step.Name, err))
			return
		}

		done := (i + 1) * 100 / total
		o.emit(progress.Event{
			JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageStepDone,
			Step: step.Name, Progress: done, Dur: o.clock.Now().Sub(stepStart),
		})
		if i < total-1 {
			if err := o.jobs.SetProgress(ctx, job.ID, done); err != nil {
				o.logger.Error("set progress failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}

	resultRef, err := o.storeArtifact(ctx, job, state)
	if err != nil {
		o.failJob(ctx, job, start, fmt.Sprintf("store artifact: %v", err))
		return
	}

	if err := o.jobs.CompleteJob(ctx, job.ID, resultRef, state.Info.DurationMinutes); err != nil {
		o.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	// Usage is charged only here, after the job reached completed. A job
	// that fails anywhere above never increments the ledger.
	o.chargeUsage(ctx, job, state)

	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageJobDone,
		Progress: 100, Dur: o.clock.Now().Sub(start),
	})
	o.publishOutcome(ctx, job.ID, string(pipeline.JobStatusCompleted), resultRef, "")
}

func (o *Orchestrator) runStep(ctx context.Context, step Step, job pipeline.Job, state *pipeline.StepState) error {
	stepCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	err := step.Runner.Run(stepCtx, job, state)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", step.Timeout)
	}
	return err
}

func (o *Orchestrator) storeArtifact(ctx context.Context, job pipeline.Job, state *pipeline.StepState) (string, error) {
	if len(state.Artifact) == 0 {
		return "", errors.New("pipeline produced no artifact")
	}
	hash, err := o.hasher.Hash(state.Artifact)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	path := fmt.Sprintf("%s/%s.json", job.ID, hash)
	if prefix := o.cfg.ArtifactPrefix; prefix != "" {
		path = fmt.Sprintf("%s/%s", prefix, path)
	}
	uri, err := o.blobs.PutObject(ctx, path, o.cfg.ArtifactContentType, state.Artifact)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (o *Orchestrator) chargeUsage(ctx context.Context, job pipeline.Job, state *pipeline.StepState) {
	charges := []struct {
		t      pipeline.QuotaType
		amount int64
	}{
		{pipeline.QuotaVideoProcessing, 1},
		{pipeline.QuotaVideoMinutes, int64(state.Info.DurationMinutes)},
		{pipeline.QuotaStorageBytes, int64(len(state.Artifact))},
	}
	for _, c := range charges {
		if err := o.ledger.Record(ctx, job.SubjectID, c.t, c.amount, job.ID, "video_job"); err != nil {
			// The job is already completed; usage loss is logged, not fatal.
			o.logger.Error("record usage failed",
				zap.String("job_id", job.ID),
				zap.String("quota_type", string(c.t)),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) failJob(ctx context.Context, job pipeline.Job, start time.Time, errText string) {
	if err := o.jobs.FailJob(ctx, job.ID, errText); err != nil {
		o.logger.Error("fail job status update", zap.String("job_id", job.ID), zap.Error(err))
	}
	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageJobError,
		Dur: o.clock.Now().Sub(start), Note: errText,
	})
	o.publishOutcome(ctx, job.ID, string(pipeline.JobStatusFailed), "", errText)
}

func (o *Orchestrator) publishOutcome(ctx context.Context, jobID, status, resultRef, errText string) {
	if o.cfg.Topic == "" || o.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":     jobID,
		"status":     status,
		"result_ref": resultRef,
		"error":      errText,
		"timestamp":  o.clock.Now().Format(time.RFC3339),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		o.logger.Error("publish job outcome failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	o.emitter.Emit(evt)
}
