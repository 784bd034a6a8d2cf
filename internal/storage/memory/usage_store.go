package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/quota"
)

type usageKey struct {
	subjectID   string
	quotaType   pipeline.QuotaType
	periodStart time.Time
}

// UsageStore keeps per-period usage rows in memory.
type UsageStore struct {
	mu   sync.RWMutex
	rows map[usageKey]int64
}

// NewUsageStore constructs a UsageStore.
func NewUsageStore() *UsageStore {
	return &UsageStore{rows: make(map[usageKey]int64)}
}

// Usage returns the used amount for the period, zero when no row exists.
func (s *UsageStore) Usage(_ context.Context, subjectID string, t pipeline.QuotaType, periodStart time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[usageKey{subjectID, t, periodStart.UTC()}], nil
}

// Increment adds the record's amount to the period row, creating it at zero
// on first use.
func (s *UsageStore) Increment(_ context.Context, rec quota.UsageRecord) error {
	if rec.Amount < 0 {
		return fmt.Errorf("negative usage increment %d", rec.Amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[usageKey{rec.SubjectID, rec.Type, rec.PeriodStart.UTC()}] += rec.Amount
	return nil
}

// PeriodUsage returns every dimension's used amount for one subject/period.
func (s *UsageStore) PeriodUsage(_ context.Context, subjectID string, periodStart time.Time) (map[pipeline.QuotaType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[pipeline.QuotaType]int64)
	for key, used := range s.rows {
		if key.subjectID == subjectID && key.periodStart.Equal(periodStart.UTC()) {
			out[key.quotaType] = used
		}
	}
	return out, nil
}
