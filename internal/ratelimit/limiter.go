// Package ratelimit implements fixed-window request counting over the shared
// counter store.
//
// Fixed windows permit up to twice the configured maximum when a burst
// straddles a window boundary. That imprecision is accepted in exchange for a
// single atomic increment per request; it is not a defect to tighten here.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/telemetry"
)

const keyNamespace = "ratelimit"

// Preset is a named window/max pair assigned to an endpoint class.
type Preset struct {
	Window      time.Duration
	MaxRequests int64
}

// Result reports the outcome of a single admission check.
type Result struct {
	Allowed    bool
	Limit      int64
	Count      int64
	Remaining  int64
	ResetTime  time.Time
	RetryAfter time.Duration
	// FailedOpen is set when the counter store was unreachable and the
	// request was allowed anyway.
	FailedOpen bool
}

// Limiter counts requests per identity within consecutive fixed windows.
type Limiter struct {
	store  pipeline.CounterStore
	clock  pipeline.Clock
	logger *zap.Logger
}

// New constructs a Limiter.
func New(store pipeline.CounterStore, clock pipeline.Clock, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, clock: clock, logger: logger}
}

// Allow increments the counter for (identity, current window) and reports
// whether the request is within budget.
//
// A counter store failure is treated as fail-open: the request is allowed and
// the fault logged, prioritizing availability over strict enforcement.
func (l *Limiter) Allow(ctx context.Context, identity string, window time.Duration, maxRequests int64) Result {
	now := l.clock.Now()
	windowIndex := now.UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%d", keyNamespace, identity, windowIndex)
	resetTime := time.UnixMilli((windowIndex + 1) * window.Milliseconds()).UTC()

	count, _, err := l.store.Increment(ctx, key, window)
	if err != nil {
		l.logger.Warn("counter store unavailable, failing open",
			zap.String("identity", identity),
			zap.Error(err),
		)
		telemetry.ObserveRateLimitFailOpen()
		return Result{
			Allowed:    true,
			Limit:      maxRequests,
			Remaining:  maxRequests,
			ResetTime:  resetTime,
			FailedOpen: true,
		}
	}

	res := Result{
		Allowed:   count <= maxRequests,
		Limit:     maxRequests,
		Count:     count,
		Remaining: max(maxRequests-count, 0),
		ResetTime: resetTime,
	}
	if !res.Allowed {
		res.RetryAfter = resetTime.Sub(now)
	}
	telemetry.ObserveRateLimit(res.Allowed)
	return res
}

// AllowPreset applies a named preset.
func (l *Limiter) AllowPreset(ctx context.Context, identity string, preset Preset) Result {
	return l.Allow(ctx, identity, preset.Window, preset.MaxRequests)
}

// Reset clears every counter for the given identity prefix. An empty prefix
// clears all rate-limit counters. Administrative use only.
func (l *Limiter) Reset(ctx context.Context, prefix string) error {
	full := keyNamespace + ":"
	if prefix != "" {
		full += prefix
	}
	if err := l.store.Reset(ctx, full); err != nil {
		return fmt.Errorf("reset counters %q: %w", prefix, err)
	}
	return nil
}
