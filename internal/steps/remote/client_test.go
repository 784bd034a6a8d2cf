package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:     url,
		APIKey:      "secret",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, zap.NewNop())
}

func TestPostDecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "/v1/transcribe", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transcript":"hello"}`))
	}))
	defer srv.Close()

	var out struct {
		Transcript string `json:"transcript"`
	}
	err := testClient(t, srv.URL).Post(context.Background(), "/v1/transcribe", map[string]string{"audio_ref": "a"}, &out)
	require.NoError(t, err)
	require.Equal(t, "hello", out.Transcript)
}

func TestPostRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]bool
	err := testClient(t, srv.URL).Post(context.Background(), "/v1/analyze", nil, &out)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL).Post(context.Background(), "/v1/analyze", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Equal(t, int32(1), calls.Load())
}

func TestPostGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL).Post(context.Background(), "/v1/graph", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, int32(3), calls.Load())
}

func TestPostHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := testClient(t, srv.URL).Post(ctx, "/v1/audio/extract", nil, nil)
	require.Error(t, err)
}
