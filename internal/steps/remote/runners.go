package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// AudioRunner implements extract_audio against the media service.
type AudioRunner struct {
	client *Client
}

// NewAudioRunner wires the media service client.
func NewAudioRunner(client *Client) *AudioRunner {
	return &AudioRunner{client: client}
}

type audioRequest struct {
	VideoURL string `json:"video_url"`
	JobID    string `json:"job_id"`
}

type audioResponse struct {
	AudioRef string `json:"audio_ref"`
}

// Run asks the media service to pull the audio track and returns a reference
// to the stored audio.
func (r *AudioRunner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	var resp audioResponse
	err := r.client.Post(ctx, "/v1/audio/extract", audioRequest{VideoURL: job.URL, JobID: job.ID}, &resp)
	if err != nil {
		return err
	}
	if resp.AudioRef == "" {
		return errors.New("media service returned no audio reference")
	}
	state.AudioRef = resp.AudioRef
	return nil
}

// TranscribeRunner implements transcribe against the speech service.
type TranscribeRunner struct {
	client *Client
}

// NewTranscribeRunner wires the speech service client.
func NewTranscribeRunner(client *Client) *TranscribeRunner {
	return &TranscribeRunner{client: client}
}

type transcribeRequest struct {
	AudioRef string `json:"audio_ref"`
	Language string `json:"language,omitempty"`
	JobID    string `json:"job_id"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// Run transcribes the extracted audio in the job's requested language.
func (r *TranscribeRunner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	if state.AudioRef == "" {
		return errors.New("transcribe requires an audio reference")
	}
	var resp transcribeResponse
	err := r.client.Post(ctx, "/v1/transcribe", transcribeRequest{
		AudioRef: state.AudioRef,
		Language: job.Options.Language,
		JobID:    job.ID,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Transcript == "" {
		return errors.New("speech service returned an empty transcript")
	}
	state.Transcript = resp.Transcript
	return nil
}

// AnalyzeRunner implements analyze_content against the analysis service.
type AnalyzeRunner struct {
	client *Client
}

// NewAnalyzeRunner wires the analysis service client.
func NewAnalyzeRunner(client *Client) *AnalyzeRunner {
	return &AnalyzeRunner{client: client}
}

type analyzeRequest struct {
	Transcript   string `json:"transcript"`
	Title        string `json:"title"`
	SummaryDepth string `json:"summary_depth,omitempty"`
	JobID        string `json:"job_id"`
}

// Run produces the structured analysis (summary, key points, sections) from
// the transcript. The response is kept as raw JSON and embedded in the final
// artifact untouched.
func (r *AnalyzeRunner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	if state.Transcript == "" {
		return errors.New("analyze requires a transcript")
	}
	var resp json.RawMessage
	err := r.client.Post(ctx, "/v1/analyze", analyzeRequest{
		Transcript:   state.Transcript,
		Title:        state.Info.Title,
		SummaryDepth: job.Options.SummaryDepth,
		JobID:        job.ID,
	}, &resp)
	if err != nil {
		return err
	}
	if len(resp) == 0 {
		return errors.New("analysis service returned an empty body")
	}
	state.Analysis = resp
	return nil
}

// GraphRunner implements generate_knowledge_graph against the graph service.
// When the job did not ask for a knowledge graph the step is a no-op.
type GraphRunner struct {
	client *Client
}

// NewGraphRunner wires the graph service client.
func NewGraphRunner(client *Client) *GraphRunner {
	return &GraphRunner{client: client}
}

type graphRequest struct {
	Analysis json.RawMessage `json:"analysis"`
	JobID    string          `json:"job_id"`
}

// Run builds concept nodes and edges from the analysis output.
func (r *GraphRunner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	if !job.Options.IncludeKnowledgeGraph {
		return nil
	}
	if len(state.Analysis) == 0 {
		return errors.New("knowledge graph requires analysis output")
	}
	var resp json.RawMessage
	err := r.client.Post(ctx, "/v1/graph", graphRequest{Analysis: state.Analysis, JobID: job.ID}, &resp)
	if err != nil {
		return err
	}
	if len(resp) == 0 {
		return fmt.Errorf("graph service returned an empty body")
	}
	state.KnowledgeEdge = resp
	return nil
}
