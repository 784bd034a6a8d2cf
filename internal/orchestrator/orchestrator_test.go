package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/hash/sha256"
	"github.com/studylens/video-pipeline/internal/orchestrator"
	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/progress"
	memorypublisher "github.com/studylens/video-pipeline/internal/publisher/memory"
	"github.com/studylens/video-pipeline/internal/quota"
	"github.com/studylens/video-pipeline/internal/steps/fake"
	storagememory "github.com/studylens/video-pipeline/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type capturingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *capturingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *capturingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	orch      *orchestrator.Orchestrator
	jobs      *storagememory.JobStore
	usage     *storagememory.UsageStore
	blobs     *storagememory.BlobStore
	publisher *memorypublisher.Publisher
	emitter   *capturingEmitter
	ledger    *quota.Ledger
}

func newHarness(t *testing.T, runners map[pipeline.StepName]pipeline.StepRunner) *harness {
	t.Helper()
	clk := &fixedClock{now: time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)}
	jobs := storagememory.NewJobStore(clk)
	usage := storagememory.NewUsageStore()
	blobs := storagememory.NewBlobStore()
	publisher := memorypublisher.New()
	emitter := &capturingEmitter{}

	plans, err := quota.NewPlanSet([]quota.Plan{{Name: "free", Limits: map[pipeline.QuotaType]int64{}}})
	require.NoError(t, err)
	ledger := quota.NewLedger(usage, plans, quota.StaticResolver{Default: "free"}, clk, zap.NewNop())

	var orchSteps []orchestrator.Step
	for _, name := range pipeline.StepOrder() {
		orchSteps = append(orchSteps, orchestrator.Step{
			Name:       name,
			Runner:     runners[name],
			Timeout:    time.Second,
			ETASeconds: 10,
		})
	}

	orch := orchestrator.New(
		context.Background(),
		jobs, ledger, blobs, publisher, sha256.New(), clk, emitter,
		orchSteps,
		orchestrator.Config{ArtifactPrefix: "results", Topic: "video.jobs"},
		zap.NewNop(),
	)
	return &harness{
		orch: orch, jobs: jobs, usage: usage, blobs: blobs,
		publisher: publisher, emitter: emitter, ledger: ledger,
	}
}

func pendingJob() pipeline.Job {
	return pipeline.Job{
		ID:        "job-1",
		SubjectID: "subj",
		URL:       "https://youtu.be/dQw4w9WgXcQ",
		Status:    pipeline.JobStatusPending,
	}
}

func TestRunJobCompletesAndChargesUsage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.Set(0))
	job := pendingJob()
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))

	h.orch.Launch(job)
	h.orch.Wait()

	got, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, 12, got.DurationMinutes)
	require.True(t, strings.HasPrefix(got.ResultRef, "memory://results/job-1/"))
	require.True(t, strings.HasSuffix(got.ResultRef, ".json"))

	usage, err := h.ledger.UsageFor(context.Background(), "subj")
	require.NoError(t, err)
	byType := make(map[pipeline.QuotaType]int64)
	for _, u := range usage {
		byType[u.Type] = u.UsedAmount
	}
	require.Equal(t, int64(1), byType[pipeline.QuotaVideoProcessing])
	require.Equal(t, int64(12), byType[pipeline.QuotaVideoMinutes])
	require.Greater(t, byType[pipeline.QuotaStorageBytes], int64(0))

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "video.jobs", msgs[0].Topic)

	stages := h.emitter.stages()
	require.Equal(t, progress.StageJobStart, stages[0])
	require.Equal(t, progress.StageJobDone, stages[len(stages)-1])
}

func TestRunJobFailingStepRecordsCause(t *testing.T) {
	t.Parallel()

	runners := fake.Set(0)
	runners[pipeline.StepTranscribe] = &fake.Runner{Err: errors.New("speech service rejected audio")}

	h := newHarness(t, runners)
	job := pendingJob()
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))

	h.orch.Launch(job)
	h.orch.Wait()

	got, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusFailed, got.Status)
	require.Equal(t, "transcribe: speech service rejected audio", got.ErrorText)
	require.Less(t, got.Progress, 100)

	// A failed job never charges quota.
	usage, err := h.ledger.UsageFor(context.Background(), "subj")
	require.NoError(t, err)
	for _, u := range usage {
		require.Equal(t, int64(0), u.UsedAmount)
	}

	stages := h.emitter.stages()
	require.Equal(t, progress.StageJobError, stages[len(stages)-1])

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "failed", payload["status"])
}

func TestRunJobStepTimeout(t *testing.T) {
	t.Parallel()

	runners := fake.Set(0)
	runners[pipeline.StepAnalyzeContent] = &fake.Runner{Delay: 5 * time.Second}

	h := newHarness(t, runners)
	job := pendingJob()
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))

	h.orch.Launch(job)
	h.orch.Wait()

	got, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorText, "analyze_content: timed out after 1s")
}

func TestRunJobProgressAdvancesPerStep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.Set(0))
	job := pendingJob()
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))

	h.orch.Launch(job)
	h.orch.Wait()

	var seen []int
	h.emitter.mu.Lock()
	for _, evt := range h.emitter.events {
		if evt.Stage == progress.StageStepDone {
			seen = append(seen, evt.Progress)
		}
	}
	h.emitter.mu.Unlock()

	require.Equal(t, []int{16, 33, 50, 66, 83, 100}, seen)
}

func TestTotalETASumsSteps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.Set(0))
	require.Equal(t, 60, h.orch.TotalETASeconds())
}
