package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/counter/memory"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("store down")
}

func TestAllowWithinLimit(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	limiter := New(memory.New(clk), clk, zap.NewNop())

	const maxRequests = 3
	for i := int64(1); i <= maxRequests; i++ {
		res := limiter.Allow(context.Background(), "user:alice", time.Minute, maxRequests)
		require.True(t, res.Allowed)
		require.Equal(t, i, res.Count)
		require.Equal(t, maxRequests-i, res.Remaining)
		require.False(t, res.FailedOpen)
	}

	res := limiter.Allow(context.Background(), "user:alice", time.Minute, maxRequests)
	require.False(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestAllowResetTimeIsWindowBoundary(t *testing.T) {
	t.Parallel()

	// 30s into a minute window: reset lands on the next boundary, not
	// now+window.
	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC().Truncate(time.Minute).Add(30 * time.Second)}
	limiter := New(memory.New(clk), clk, zap.NewNop())

	res := limiter.Allow(context.Background(), "user:bob", time.Minute, 10)
	require.True(t, res.Allowed)
	require.True(t, res.ResetTime.Equal(clk.now.Truncate(time.Minute).Add(time.Minute)),
		"reset %v should be the next window boundary", res.ResetTime)
}

func TestAllowNewWindowRestartsCount(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC().Truncate(time.Minute)}
	limiter := New(memory.New(clk), clk, zap.NewNop())

	for i := 0; i < 2; i++ {
		limiter.Allow(context.Background(), "user:carol", time.Minute, 2)
	}
	res := limiter.Allow(context.Background(), "user:carol", time.Minute, 2)
	require.False(t, res.Allowed)

	clk.now = clk.now.Add(time.Minute)
	res = limiter.Allow(context.Background(), "user:carol", time.Minute, 2)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Count)
}

func TestAllowIsolatesIdentities(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	limiter := New(memory.New(clk), clk, zap.NewNop())

	limiter.Allow(context.Background(), "user:dave", time.Minute, 1)
	res := limiter.Allow(context.Background(), "user:dave", time.Minute, 1)
	require.False(t, res.Allowed)

	res = limiter.Allow(context.Background(), "user:erin", time.Minute, 1)
	require.True(t, res.Allowed)
}

func TestAllowFailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	limiter := New(failingStore{}, clk, zap.NewNop())

	res := limiter.Allow(context.Background(), "user:frank", time.Minute, 5)
	require.True(t, res.Allowed)
	require.True(t, res.FailedOpen)
	require.Equal(t, int64(5), res.Remaining)
}

func TestResetScopesToNamespace(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store := memory.New(clk)
	limiter := New(store, clk, zap.NewNop())

	limiter.Allow(context.Background(), "user:gina", time.Minute, 1)
	res := limiter.Allow(context.Background(), "user:gina", time.Minute, 1)
	require.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(context.Background(), "user:gina"))

	res = limiter.Allow(context.Background(), "user:gina", time.Minute, 1)
	require.True(t, res.Allowed)
}

func TestKeyFuncs(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/v1/videos/process", nil)
	r.RemoteAddr = "203.0.113.9:4242"
	require.Equal(t, "ip:203.0.113.9", ByIP(r))
	require.Equal(t, "ip:203.0.113.9", ByUserOrIP(r))
	require.Equal(t, "ip:203.0.113.9:GET:/v1/videos/process", ByIPAndRoute(r))

	r.Header.Set("X-User-ID", "subject-1")
	require.Equal(t, "user:subject-1", ByUserOrIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	require.Equal(t, "ip:198.51.100.7", ByIP(r))
}
