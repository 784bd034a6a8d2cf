package steps

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func readyState() *pipeline.StepState {
	return &pipeline.StepState{
		Info:       pipeline.VideoInfo{Title: "Lecture", Author: "Uni", DurationMinutes: 12},
		Transcript: "words",
		Analysis:   json.RawMessage(`{"summary":"s"}`),
	}
}

func TestFinalizeAssemblesArtifact(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)}
	runner := NewFinalizeRunner(clk)
	job := pipeline.Job{ID: "job-1", URL: "https://youtu.be/dQw4w9WgXcQ"}
	state := readyState()

	require.NoError(t, runner.Run(context.Background(), job, state))
	require.NotEmpty(t, state.Artifact)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(state.Artifact, &doc))
	require.Equal(t, "job-1", doc["process_id"])
	require.Equal(t, "https://youtu.be/dQw4w9WgXcQ", doc["source_url"])
	require.Equal(t, "words", doc["transcript"])
	require.NotContains(t, doc, "knowledge_graph")
}

func TestFinalizeIncludesGraphWhenPresent(t *testing.T) {
	t.Parallel()

	runner := NewFinalizeRunner(&fixedClock{now: time.Now()})
	job := pipeline.Job{ID: "job-1", Options: pipeline.JobOptions{IncludeKnowledgeGraph: true}}
	state := readyState()
	state.KnowledgeEdge = json.RawMessage(`{"nodes":[]}`)

	require.NoError(t, runner.Run(context.Background(), job, state))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(state.Artifact, &doc))
	require.Contains(t, doc, "knowledge_graph")
}

func TestFinalizeValidatesInputs(t *testing.T) {
	t.Parallel()

	runner := NewFinalizeRunner(&fixedClock{now: time.Now()})
	job := pipeline.Job{ID: "job-1"}

	state := readyState()
	state.Transcript = ""
	require.Error(t, runner.Run(context.Background(), job, state))

	state = readyState()
	state.Analysis = nil
	require.Error(t, runner.Run(context.Background(), job, state))

	job.Options.IncludeKnowledgeGraph = true
	state = readyState()
	require.Error(t, runner.Run(context.Background(), job, state), "requested graph must be present")
}
