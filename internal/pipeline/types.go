// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StepName identifies one stage of the processing pipeline.
type StepName string

// The fixed ordered step list owned by the orchestrator.
const (
	StepExtractInfo    StepName = "extract_info"
	StepExtractAudio   StepName = "extract_audio"
	StepTranscribe     StepName = "transcribe"
	StepAnalyzeContent StepName = "analyze_content"
	StepKnowledgeGraph StepName = "generate_knowledge_graph"
	StepFinalize       StepName = "finalize"
)

// StepOrder returns the canonical step sequence for a video job.
func StepOrder() []StepName {
	return []StepName{
		StepExtractInfo,
		StepExtractAudio,
		StepTranscribe,
		StepAnalyzeContent,
		StepKnowledgeGraph,
		StepFinalize,
	}
}

// JobOptions captures per-job configuration requested by the client.
// Fields are closed and typed; arbitrary metadata bags are not accepted.
type JobOptions struct {
	Language              string `json:"language,omitempty"`
	SummaryDepth          string `json:"summary_depth,omitempty"`
	IncludeKnowledgeGraph bool   `json:"include_knowledge_graph,omitempty"`
}

// Job is the record persisted for each submitted video processing request.
//
// Once Status reaches a terminal value it never changes again, Progress is
// monotonically non-decreasing, and CurrentStep is drawn from StepOrder.
// The job store enforces all three.
type Job struct {
	ID               string     `json:"process_id"`
	SubjectID        string     `json:"subject_id"`
	URL              string     `json:"youtube_url"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStep      StepName   `json:"current_step,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EstimatedSeconds int        `json:"estimated_time_remaining,omitempty"`
	ErrorText        string     `json:"error,omitempty"`
	ResultRef        string     `json:"result_ref,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Options          JobOptions `json:"options"`
	DurationMinutes  int        `json:"duration_minutes,omitempty"`
}

// QuotaType names one independently tracked usage dimension.
type QuotaType string

// The six quota dimensions tracked per subject and billing period.
const (
	QuotaVideoProcessing QuotaType = "video_processing"
	QuotaVideoMinutes    QuotaType = "video_duration_minutes"
	QuotaStorageBytes    QuotaType = "storage_bytes"
	QuotaShares          QuotaType = "shares"
	QuotaExports         QuotaType = "exports"
	QuotaAPICalls        QuotaType = "api_calls"
)

// QuotaTypes returns every tracked dimension.
func QuotaTypes() []QuotaType {
	return []QuotaType{
		QuotaVideoProcessing,
		QuotaVideoMinutes,
		QuotaStorageBytes,
		QuotaShares,
		QuotaExports,
		QuotaAPICalls,
	}
}

// ValidQuotaType reports whether t names a tracked dimension.
func ValidQuotaType(t QuotaType) bool {
	for _, known := range QuotaTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Usage is the accounting row for one (subject, dimension, period) triple.
// MaxAmount 0 means unlimited.
type Usage struct {
	SubjectID   string    `json:"subject_id"`
	Type        QuotaType `json:"quota_type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	UsedAmount  int64     `json:"used_amount"`
	MaxAmount   int64     `json:"max_amount"`
}

// CheckResult is returned by the quota ledger for a single-dimension check.
type CheckResult struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	CurrentUsage    *Usage `json:"current_usage,omitempty"`
	UpgradeRequired bool   `json:"upgrade_required,omitempty"`
	SuggestedPlan   string `json:"suggested_plan,omitempty"`
}

// VideoInfo is the metadata produced by the extract_info step.
type VideoInfo struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	DurationMinutes int    `json:"duration_minutes"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
}

// StepState carries intermediate outputs between steps of one job. It is
// mutated only by the single goroutine driving that job, never shared.
type StepState struct {
	Info          VideoInfo
	AudioRef      string
	Transcript    string
	Analysis      []byte
	KnowledgeEdge []byte
	Artifact      []byte
}
