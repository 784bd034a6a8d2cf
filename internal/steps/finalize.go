// Package steps holds the step runners that do not call external services.
package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// FinalizeRunner assembles the completed learning-material artifact from the
// accumulated step outputs. It runs entirely in process.
type FinalizeRunner struct {
	clock pipeline.Clock
}

// NewFinalizeRunner builds a FinalizeRunner.
func NewFinalizeRunner(clock pipeline.Clock) *FinalizeRunner {
	return &FinalizeRunner{clock: clock}
}

// artifact is the persisted result document. KnowledgeGraph is omitted when
// the job did not request one.
type artifact struct {
	ProcessID      string             `json:"process_id"`
	SourceURL      string             `json:"source_url"`
	Video          pipeline.VideoInfo `json:"video"`
	Transcript     string             `json:"transcript"`
	Analysis       json.RawMessage    `json:"analysis"`
	KnowledgeGraph json.RawMessage    `json:"knowledge_graph,omitempty"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// Run validates the accumulated state and serializes the final artifact.
func (r *FinalizeRunner) Run(_ context.Context, job pipeline.Job, state *pipeline.StepState) error {
	if state.Transcript == "" {
		return errors.New("finalize requires a transcript")
	}
	if len(state.Analysis) == 0 {
		return errors.New("finalize requires analysis output")
	}
	if job.Options.IncludeKnowledgeGraph && len(state.KnowledgeEdge) == 0 {
		return errors.New("finalize requires knowledge graph output")
	}

	doc := artifact{
		ProcessID:      job.ID,
		SourceURL:      job.URL,
		Video:          state.Info,
		Transcript:     state.Transcript,
		Analysis:       state.Analysis,
		KnowledgeGraph: state.KnowledgeEdge,
		GeneratedAt:    r.clock.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	state.Artifact = data
	return nil
}
