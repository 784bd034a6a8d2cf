// Package quota implements multi-dimensional usage accounting keyed by
// subject and billing period.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/telemetry"
)

// UsageRecord is one increment applied to the ledger.
type UsageRecord struct {
	SubjectID    string
	Type         pipeline.QuotaType
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Amount       int64
	ResourceID   string
	ResourceType string
}

// UsageStore persists per-period usage rows. The period row is created with
// zero usage on first increment.
type UsageStore interface {
	Usage(ctx context.Context, subjectID string, t pipeline.QuotaType, periodStart time.Time) (int64, error)
	Increment(ctx context.Context, rec UsageRecord) error
	PeriodUsage(ctx context.Context, subjectID string, periodStart time.Time) (map[pipeline.QuotaType]int64, error)
}

// Ledger answers quota checks and records usage.
//
// Check and Record are deliberately two separate calls: the caller checks,
// acts, then records. The window between them is not locked, matching the
// documented contract; callers accept a narrow oversell race under heavy
// concurrency. Record is also the override path, since it increments without
// consulting the ceiling.
type Ledger struct {
	store    UsageStore
	plans    *PlanSet
	resolver PlanResolver
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(store UsageStore, plans *PlanSet, resolver PlanResolver, clock pipeline.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, plans: plans, resolver: resolver, clock: clock, logger: logger}
}

// Check evaluates a single dimension for the active billing period.
//
// A usage-store failure is fail-closed: the check denies, because quota
// guards monetized resources. This is the deliberate inverse of the rate
// limiter's fail-open policy.
func (l *Ledger) Check(ctx context.Context, subjectID string, t pipeline.QuotaType, amount int64) (pipeline.CheckResult, error) {
	if !pipeline.ValidQuotaType(t) {
		return pipeline.CheckResult{Allowed: false, Reason: fmt.Sprintf("unknown quota type %q", t)},
			fmt.Errorf("unknown quota type %q", t)
	}
	if amount < 0 {
		return pipeline.CheckResult{Allowed: false, Reason: "amount must be >= 0"},
			fmt.Errorf("amount must be >= 0")
	}

	planName, err := l.resolver.PlanFor(ctx, subjectID)
	if err != nil {
		return l.denyUnavailable(t, fmt.Errorf("resolve plan: %w", err))
	}
	plan, ok := l.plans.Get(planName)
	if !ok {
		return l.denyUnavailable(t, fmt.Errorf("unknown plan %q", planName))
	}

	periodStart, periodEnd := PeriodBounds(l.clock.Now())
	used, err := l.store.Usage(ctx, subjectID, t, periodStart)
	if err != nil {
		return l.denyUnavailable(t, fmt.Errorf("read usage: %w", err))
	}

	limit := plan.Limit(t)
	usage := &pipeline.Usage{
		SubjectID:   subjectID,
		Type:        t,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		UsedAmount:  used,
		MaxAmount:   limit,
	}

	if limit == 0 || used+amount <= limit {
		telemetry.ObserveQuotaCheck(string(t), true)
		return pipeline.CheckResult{Allowed: true, CurrentUsage: usage}, nil
	}

	telemetry.ObserveQuotaCheck(string(t), false)
	return pipeline.CheckResult{
		Allowed:         false,
		Reason:          fmt.Sprintf("%s quota exceeded: %d of %d used this period", t, used, limit),
		CurrentUsage:    usage,
		UpgradeRequired: true,
		SuggestedPlan:   l.plans.SuggestUpgrade(planName, t, limit),
	}, nil
}

// Record increments usage for the active period, creating the period row on
// first use. It does not re-check the ceiling.
func (l *Ledger) Record(ctx context.Context, subjectID string, t pipeline.QuotaType, amount int64, resourceID, resourceType string) error {
	if !pipeline.ValidQuotaType(t) {
		return fmt.Errorf("unknown quota type %q", t)
	}
	if amount <= 0 {
		return nil
	}
	periodStart, periodEnd := PeriodBounds(l.clock.Now())
	rec := UsageRecord{
		SubjectID:    subjectID,
		Type:         t,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Amount:       amount,
		ResourceID:   resourceID,
		ResourceType: resourceType,
	}
	if err := l.store.Increment(ctx, rec); err != nil {
		return fmt.Errorf("record %s usage: %w", t, err)
	}
	telemetry.ObserveQuotaRecorded(string(t), amount)
	return nil
}

// UsageFor reports all six dimensions for the subject's current period.
func (l *Ledger) UsageFor(ctx context.Context, subjectID string) ([]pipeline.Usage, error) {
	planName, err := l.resolver.PlanFor(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	plan, ok := l.plans.Get(planName)
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", planName)
	}
	periodStart, periodEnd := PeriodBounds(l.clock.Now())
	used, err := l.store.PeriodUsage(ctx, subjectID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("read period usage: %w", err)
	}
	out := make([]pipeline.Usage, 0, len(pipeline.QuotaTypes()))
	for _, t := range pipeline.QuotaTypes() {
		out = append(out, pipeline.Usage{
			SubjectID:   subjectID,
			Type:        t,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			UsedAmount:  used[t],
			MaxAmount:   plan.Limit(t),
		})
	}
	return out, nil
}

func (l *Ledger) denyUnavailable(t pipeline.QuotaType, err error) (pipeline.CheckResult, error) {
	l.logger.Error("quota check failed closed", zap.String("quota_type", string(t)), zap.Error(err))
	telemetry.ObserveQuotaCheck(string(t), false)
	return pipeline.CheckResult{Allowed: false, Reason: "quota check unavailable"},
		fmt.Errorf("%w: %w", pipeline.ErrStoreUnavailable, err)
}
