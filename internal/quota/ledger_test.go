package quota_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/quota"
	"github.com/studylens/video-pipeline/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type brokenUsageStore struct{}

func (brokenUsageStore) Usage(context.Context, string, pipeline.QuotaType, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func (brokenUsageStore) Increment(context.Context, quota.UsageRecord) error {
	return errors.New("db down")
}

func (brokenUsageStore) PeriodUsage(context.Context, string, time.Time) (map[pipeline.QuotaType]int64, error) {
	return nil, errors.New("db down")
}

func testPlans(t *testing.T) *quota.PlanSet {
	t.Helper()
	plans, err := quota.NewPlanSet([]quota.Plan{
		{Name: "free", Limits: map[pipeline.QuotaType]int64{
			pipeline.QuotaVideoProcessing: 3,
			pipeline.QuotaVideoMinutes:    60,
		}},
		{Name: "pro", Limits: map[pipeline.QuotaType]int64{
			pipeline.QuotaVideoProcessing: 50,
			pipeline.QuotaVideoMinutes:    1500,
		}},
		{Name: "premium", Limits: map[pipeline.QuotaType]int64{}},
	})
	require.NoError(t, err)
	return plans
}

func newTestLedger(t *testing.T, store quota.UsageStore) (*quota.Ledger, *fixedClock) {
	t.Helper()
	clk := &fixedClock{now: time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)}
	if store == nil {
		store = memory.NewUsageStore()
	}
	ledger := quota.NewLedger(store, testPlans(t), quota.StaticResolver{Default: "free"}, clk, zap.NewNop())
	return ledger, clk
}

func TestPeriodBounds(t *testing.T) {
	t.Parallel()

	start, end := quota.PeriodBounds(time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), end)

	// December rolls over the year.
	start, end = quota.PeriodBounds(time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC))
	require.Equal(t, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	res, err := ledger.Check(context.Background(), "subj", pipeline.QuotaVideoProcessing, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.NotNil(t, res.CurrentUsage)
	require.Equal(t, int64(0), res.CurrentUsage.UsedAmount)
	require.Equal(t, int64(3), res.CurrentUsage.MaxAmount)
}

func TestCheckDeniesAtCeilingWithUpgrade(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaVideoProcessing, 1, "", ""))
	}

	res, err := ledger.Check(context.Background(), "subj", pipeline.QuotaVideoProcessing, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.True(t, res.UpgradeRequired)
	require.Equal(t, "pro", res.SuggestedPlan)
	require.Contains(t, res.Reason, "quota exceeded")
}

func TestCheckUnlimitedDimension(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	// free has no ceiling configured for exports, so 0 = unlimited.
	res, err := ledger.Check(context.Background(), "subj", pipeline.QuotaExports, 1_000_000)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestCheckRejectsUnknownType(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	res, err := ledger.Check(context.Background(), "subj", "bogus", 1)
	require.Error(t, err)
	require.False(t, res.Allowed)
	require.NotErrorIs(t, err, pipeline.ErrStoreUnavailable)
}

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, brokenUsageStore{})
	res, err := ledger.Check(context.Background(), "subj", pipeline.QuotaVideoProcessing, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, pipeline.ErrStoreUnavailable)
	require.False(t, res.Allowed)
	require.Equal(t, "quota check unavailable", res.Reason)
}

func TestRecordAccumulatesAcrossPeriodRollover(t *testing.T) {
	t.Parallel()

	ledger, clk := newTestLedger(t, nil)
	require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaVideoMinutes, 45, "job-1", "video_job"))
	require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaVideoMinutes, 10, "job-2", "video_job"))

	res, err := ledger.Check(context.Background(), "subj", pipeline.QuotaVideoMinutes, 10)
	require.NoError(t, err)
	require.False(t, res.Allowed, "55 used + 10 exceeds the 60 minute ceiling")

	// A new billing period starts with a clean slate.
	clk.now = clk.now.AddDate(0, 1, 0)
	res, err = ledger.Check(context.Background(), "subj", pipeline.QuotaVideoMinutes, 10)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(0), res.CurrentUsage.UsedAmount)
}

func TestRecordIgnoresNonPositiveAmounts(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaShares, 0, "", ""))
	require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaShares, -5, "", ""))

	usage, err := ledger.UsageFor(context.Background(), "subj")
	require.NoError(t, err)
	for _, u := range usage {
		require.Equal(t, int64(0), u.UsedAmount)
	}
}

func TestUsageForReportsAllDimensions(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, nil)
	require.NoError(t, ledger.Record(context.Background(), "subj", pipeline.QuotaVideoProcessing, 2, "", ""))

	usage, err := ledger.UsageFor(context.Background(), "subj")
	require.NoError(t, err)
	require.Len(t, usage, len(pipeline.QuotaTypes()))

	byType := make(map[pipeline.QuotaType]pipeline.Usage, len(usage))
	for _, u := range usage {
		byType[u.Type] = u
	}
	require.Equal(t, int64(2), byType[pipeline.QuotaVideoProcessing].UsedAmount)
	require.Equal(t, int64(3), byType[pipeline.QuotaVideoProcessing].MaxAmount)
	require.Equal(t, int64(0), byType[pipeline.QuotaStorageBytes].UsedAmount)
}

func TestSuggestUpgrade(t *testing.T) {
	t.Parallel()

	plans := testPlans(t)
	require.Equal(t, "pro", plans.SuggestUpgrade("free", pipeline.QuotaVideoProcessing, 3))
	require.Equal(t, "premium", plans.SuggestUpgrade("pro", pipeline.QuotaVideoProcessing, 50))
	require.Equal(t, "", plans.SuggestUpgrade("premium", pipeline.QuotaVideoProcessing, 0))
}
