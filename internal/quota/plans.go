package quota

import (
	"context"
	"fmt"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// Plan defines per-dimension ceilings for one subscription tier. A limit of 0
// means unlimited; a dimension absent from Limits is likewise unlimited.
type Plan struct {
	Name   string
	Limits map[pipeline.QuotaType]int64
}

// Limit returns the ceiling for a dimension (0 = unlimited).
func (p Plan) Limit(t pipeline.QuotaType) int64 {
	return p.Limits[t]
}

// PlanSet holds the configured tiers in ascending order.
type PlanSet struct {
	order []string
	plans map[string]Plan
}

// NewPlanSet builds a PlanSet; slice order is tier order, lowest first.
func NewPlanSet(plans []Plan) (*PlanSet, error) {
	set := &PlanSet{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if p.Name == "" {
			return nil, fmt.Errorf("plan name is required")
		}
		if _, dup := set.plans[p.Name]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.Name)
		}
		set.order = append(set.order, p.Name)
		set.plans[p.Name] = p
	}
	if len(set.order) == 0 {
		return nil, fmt.Errorf("at least one plan is required")
	}
	return set, nil
}

// Get looks up a plan by name.
func (s *PlanSet) Get(name string) (Plan, bool) {
	p, ok := s.plans[name]
	return p, ok
}

// SuggestUpgrade returns the lowest tier above current whose ceiling for the
// dimension beats limit (unlimited always beats). Empty when no tier helps.
func (s *PlanSet) SuggestUpgrade(current string, t pipeline.QuotaType, limit int64) string {
	idx := -1
	for i, name := range s.order {
		if name == current {
			idx = i
			break
		}
	}
	for i := idx + 1; i < len(s.order); i++ {
		candidate := s.plans[s.order[i]].Limit(t)
		if candidate == 0 || candidate > limit {
			return s.order[i]
		}
	}
	return ""
}

// PlanResolver maps a subject to its subscription tier.
type PlanResolver interface {
	PlanFor(ctx context.Context, subjectID string) (string, error)
}

// StaticResolver assigns a default plan with optional per-subject overrides.
// Suits deployments where entitlements arrive via configuration rather than a
// billing service.
type StaticResolver struct {
	Default   string
	Overrides map[string]string
}

// PlanFor returns the override for the subject or the default plan.
func (r StaticResolver) PlanFor(_ context.Context, subjectID string) (string, error) {
	if plan, ok := r.Overrides[subjectID]; ok {
		return plan, nil
	}
	return r.Default, nil
}
