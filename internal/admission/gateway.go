// Package admission composes the rate limiter and quota ledger into a single
// allow/deny decision for a proposed operation.
package admission

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/quota"
	"github.com/studylens/video-pipeline/internal/ratelimit"
	"github.com/studylens/video-pipeline/internal/telemetry"
)

// Denial reasons surfaced in Decision.Reason.
const (
	ReasonRateLimited   = "rate_limited"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonQuotaUnknown  = "quota_unavailable"
)

// Operation describes the request class being admitted: a rate-limit preset
// keyed by caller identity plus, for monetized operations, the quota
// dimension and amount to check.
type Operation struct {
	Name      string
	Preset    ratelimit.Preset
	QuotaType pipeline.QuotaType
	Amount    int64
}

// Decision is the gateway's structured answer. Rate-limit denials are
// transient and retryable after RetryAfter; quota denials are not retryable
// until period rollover or a plan change.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	RateLimit  ratelimit.Result
	Quota      *pipeline.CheckResult
}

// Gateway evaluates rate limits then quota; both must allow.
type Gateway struct {
	limiter *ratelimit.Limiter
	ledger  *quota.Ledger
	logger  *zap.Logger
}

// New constructs a Gateway.
func New(limiter *ratelimit.Limiter, ledger *quota.Ledger, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{limiter: limiter, ledger: ledger, logger: logger}
}

// Admit decides whether the operation may proceed. The rate limiter runs
// first: it is cheap, identity-keyed, and guards sheer request volume. The
// quota ledger runs second and guards monetized resources for the subject.
func (g *Gateway) Admit(ctx context.Context, subjectID, identity string, op Operation) Decision {
	rl := g.limiter.AllowPreset(ctx, identity, op.Preset)
	if !rl.Allowed {
		g.logger.Info("admission denied by rate limit",
			zap.String("operation", op.Name),
			zap.String("identity", identity),
			zap.Int64("count", rl.Count),
		)
		telemetry.ObserveAdmission(false, ReasonRateLimited)
		return Decision{
			Allowed:    false,
			Reason:     ReasonRateLimited,
			RetryAfter: rl.RetryAfter,
			RateLimit:  rl,
		}
	}

	if op.QuotaType == "" {
		telemetry.ObserveAdmission(true, "")
		return Decision{Allowed: true, RateLimit: rl}
	}

	check, err := g.ledger.Check(ctx, subjectID, op.QuotaType, op.Amount)
	if err != nil {
		// The ledger already failed closed; classify the reason for callers.
		reason := ReasonQuotaExceeded
		if errors.Is(err, pipeline.ErrStoreUnavailable) {
			reason = ReasonQuotaUnknown
		}
		telemetry.ObserveAdmission(false, reason)
		return Decision{Allowed: false, Reason: reason, RateLimit: rl, Quota: &check}
	}
	if !check.Allowed {
		g.logger.Info("admission denied by quota",
			zap.String("operation", op.Name),
			zap.String("subject_id", subjectID),
			zap.String("quota_type", string(op.QuotaType)),
		)
		telemetry.ObserveAdmission(false, ReasonQuotaExceeded)
		return Decision{Allowed: false, Reason: ReasonQuotaExceeded, RateLimit: rl, Quota: &check}
	}

	telemetry.ObserveAdmission(true, "")
	return Decision{Allowed: true, RateLimit: rl, Quota: &check}
}
