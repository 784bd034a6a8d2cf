package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/admission"
	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/ratelimit"
)

type processRequest struct {
	YouTubeURL string              `json:"youtube_url" validate:"required,url"`
	Options    pipeline.JobOptions `json:"options"`
}

type processResponse struct {
	ProcessID     string `json:"process_id"`
	Status        string `json:"status"`
	EstimatedTime int    `json:"estimated_time"`
	Message       string `json:"message"`
}

func (s *Server) submitVideo(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "youtube_url must be a valid URL")
		return
	}

	subject := subjectID(r)
	decision := s.gateway.Admit(r.Context(), subject, ratelimit.ByUserOrIP(r), admission.Operation{
		Name:      "video_process",
		Preset:    s.preset("strict"),
		QuotaType: pipeline.QuotaVideoProcessing,
		Amount:    1,
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not assign a process id")
		return
	}
	now := s.clock.Now()
	job := pipeline.Job{
		ID:        jobID,
		SubjectID: subject,
		URL:       req.YouTubeURL,
		Status:    pipeline.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   req.Options,
	}
	job.EstimatedSeconds = s.orch.TotalETASeconds()
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create the job")
		return
	}

	s.orch.Launch(job)

	writeJSON(w, http.StatusAccepted, processResponse{
		ProcessID:     jobID,
		Status:        "accepted",
		EstimatedTime: job.EstimatedSeconds,
		Message:       "video processing started; poll the status endpoint",
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	decision := s.gateway.Admit(r.Context(), subjectID(r), ratelimit.ByUserOrIP(r), admission.Operation{
		Name:   "video_status",
		Preset: s.preset("lenient"),
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	jobID := chi.URLParam(r, "process_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown process id")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load the job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resultResponse struct {
	ProcessID   string `json:"process_id"`
	ResultRef   string `json:"result_ref"`
	CompletedAt string `json:"completed_at"`
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	decision := s.gateway.Admit(r.Context(), subjectID(r), ratelimit.ByUserOrIP(r), admission.Operation{
		Name:   "video_result",
		Preset: s.preset("moderate"),
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	jobID := chi.URLParam(r, "process_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown process id")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load the job")
		return
	}
	if job.Status != pipeline.JobStatusCompleted {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no result: job is %s", job.Status))
		return
	}
	resp := resultResponse{ProcessID: job.ID, ResultRef: job.ResultRef}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(timeLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

// setRateLimitHeaders reports the window state on every response that passed
// through the limiter, allowed or not.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
}

// writeDenial maps an admission decision to a transport response. Rate-limit
// denials are transient (429 + retry_after); quota denials are structural
// (403 + upgrade guidance).
func writeDenial(w http.ResponseWriter, decision admission.Decision) {
	switch decision.Reason {
	case admission.ReasonRateLimited:
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "too many requests",
			"retry_after": retryAfter,
		})
	case admission.ReasonQuotaExceeded:
		body := map[string]any{"error": "quota exceeded"}
		if q := decision.Quota; q != nil {
			body["reason"] = q.Reason
			body["upgrade_required"] = q.UpgradeRequired
			if q.SuggestedPlan != "" {
				body["suggested_plan"] = q.SuggestedPlan
			}
		}
		writeJSON(w, http.StatusForbidden, body)
	case admission.ReasonQuotaUnknown:
		writeError(w, http.StatusServiceUnavailable, "quota service unavailable, try again")
	default:
		writeError(w, http.StatusForbidden, "request not admitted")
	}
}
