package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/admission"
	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/ratelimit"
)

type quotaCheckRequest struct {
	QuotaType string `json:"quota_type" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
}

func (s *Server) quotaCheck(w http.ResponseWriter, r *http.Request) {
	decision := s.gateway.Admit(r.Context(), subjectID(r), ratelimit.ByUserOrIP(r), admission.Operation{
		Name:   "quota_check",
		Preset: s.preset("moderate"),
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	var req quotaCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "quota_type and a positive amount are required")
		return
	}

	check, err := s.ledger.Check(r.Context(), subjectID(r), pipeline.QuotaType(req.QuotaType), req.Amount)
	if err != nil {
		if errors.Is(err, pipeline.ErrStoreUnavailable) {
			// Fail-closed result still describes the denial; surface it with
			// a retryable status.
			writeJSON(w, http.StatusServiceUnavailable, check)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) quotaUsage(w http.ResponseWriter, r *http.Request) {
	decision := s.gateway.Admit(r.Context(), subjectID(r), ratelimit.ByUserOrIP(r), admission.Operation{
		Name:   "quota_usage",
		Preset: s.preset("moderate"),
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	usage, err := s.ledger.UsageFor(r.Context(), subjectID(r))
	if err != nil {
		s.logger.Error("usage lookup failed", zap.String("subject_id", subjectID(r)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "usage unavailable, try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

type quotaRecordRequest struct {
	QuotaType    string `json:"quota_type" validate:"required"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

func (s *Server) quotaRecord(w http.ResponseWriter, r *http.Request) {
	decision := s.gateway.Admit(r.Context(), subjectID(r), ratelimit.ByUserOrIP(r), admission.Operation{
		Name:   "quota_record",
		Preset: s.preset("moderate"),
	})
	setRateLimitHeaders(w, decision.RateLimit)
	if !decision.Allowed {
		writeDenial(w, decision)
		return
	}

	var req quotaRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "quota_type and a positive amount are required")
		return
	}

	err := s.ledger.Record(r.Context(), subjectID(r), pipeline.QuotaType(req.QuotaType), req.Amount, req.ResourceID, req.ResourceType)
	if err != nil {
		if errors.Is(err, pipeline.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "usage store unavailable, try again")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	// Prefix scopes the reset to matching identities, e.g. "user:judy" or
	// "ip:". Empty clears every rate-limit counter.
	Prefix string `json:"prefix"`
}

// resetRateLimits clears counters for an identity prefix. The limiter owns
// the key namespace; callers never see or pass raw counter keys.
func (s *Server) resetRateLimits(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.limiter.Reset(r.Context(), req.Prefix); err != nil {
		s.logger.Error("rate limit reset failed", zap.String("prefix", req.Prefix), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "counter store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
