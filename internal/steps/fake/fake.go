// Package fake provides scripted step runners for development mode and
// tests. No network calls are made; each runner produces deterministic
// output after an optional simulated delay.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// Runner executes a scripted function after an optional delay, or fails
// with a scripted error.
type Runner struct {
	// Delay simulates work before the step resolves.
	Delay time.Duration
	// Err, when set, is returned instead of running Fn.
	Err error
	// Fn mutates state the way a real runner would.
	Fn func(job pipeline.Job, state *pipeline.StepState) error
}

// Run waits for Delay (bounded by ctx), then applies the script.
func (r *Runner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.Err != nil {
		return r.Err
	}
	if r.Fn == nil {
		return nil
	}
	return r.Fn(job, state)
}

// Set returns one scripted runner per pipeline step, producing a coherent
// end-to-end result for any job. The delay applies to every step.
func Set(delay time.Duration) map[pipeline.StepName]pipeline.StepRunner {
	return map[pipeline.StepName]pipeline.StepRunner{
		pipeline.StepExtractInfo: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			state.Info = pipeline.VideoInfo{
				Title:           "Scripted Lecture",
				Author:          "Dev Mode",
				DurationMinutes: 12,
			}
			return nil
		}},
		pipeline.StepExtractAudio: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			state.AudioRef = fmt.Sprintf("memory://audio/%s.ogg", job.ID)
			return nil
		}},
		pipeline.StepTranscribe: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			state.Transcript = "Welcome to the scripted lecture. Today we cover the entire syllabus."
			return nil
		}},
		pipeline.StepAnalyzeContent: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			analysis, err := json.Marshal(map[string]any{
				"summary":    "A short scripted summary.",
				"key_points": []string{"point one", "point two"},
			})
			if err != nil {
				return err
			}
			state.Analysis = analysis
			return nil
		}},
		pipeline.StepKnowledgeGraph: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			if !job.Options.IncludeKnowledgeGraph {
				return nil
			}
			graph, err := json.Marshal(map[string]any{
				"nodes": []string{"syllabus", "lecture"},
				"edges": []map[string]string{{"from": "lecture", "to": "syllabus"}},
			})
			if err != nil {
				return err
			}
			state.KnowledgeEdge = graph
			return nil
		}},
		pipeline.StepFinalize: &Runner{Delay: delay, Fn: func(job pipeline.Job, state *pipeline.StepState) error {
			doc, err := json.Marshal(map[string]any{
				"process_id": job.ID,
				"video":      state.Info,
				"transcript": state.Transcript,
			})
			if err != nil {
				return err
			}
			state.Artifact = doc
			return nil
		}},
	}
}
