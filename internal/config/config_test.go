package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Counter.Backend)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.True(t, cfg.Steps.FakeMode, "bare defaults must start without collaborator services")

	strict := cfg.RateLimit.Presets["strict"]
	require.Equal(t, 60, strict.WindowSeconds)
	require.Equal(t, 10, strict.MaxRequests)

	require.Equal(t, "free", cfg.Plans.Default)
	require.Len(t, cfg.Plans.Tiers, 3)
	require.Equal(t, int64(3), cfg.Plans.Tiers[0].Limits["video_processing"])

	require.Equal(t, 900, cfg.Steps.PerStep["transcribe"].TimeoutSeconds)
	require.Equal(t, 120, cfg.Steps.PerStep["transcribe"].ETASeconds)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
steps:
  fake_mode: false
services:
  media:
    base_url: http://media.internal
  speech:
    base_url: http://speech.internal
  analysis:
    base_url: http://analysis.internal
  graph:
    base_url: http://graph.internal
storage:
  backend: local
  local_dir: /var/lib/pipeline
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.False(t, cfg.Steps.FakeMode)
	require.Equal(t, "http://speech.internal", cfg.Services["speech"].BaseURL)
	require.Equal(t, "local", cfg.Storage.Backend)
	// Untouched keys keep their defaults.
	require.Equal(t, "memory", cfg.Counter.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
}

func baseConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown counter backend",
			mutate:  func(c *Config) { c.Counter.Backend = "etcd" },
			wantErr: "counter.backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Counter.Backend = "redis"
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "s3" },
			wantErr: "storage.backend",
		},
		{
			name: "local storage without dir",
			mutate: func(c *Config) {
				c.Storage.Backend = "local"
				c.Storage.LocalDir = ""
			},
			wantErr: "storage.local_dir",
		},
		{
			name: "gcs storage without bucket",
			mutate: func(c *Config) {
				c.Storage.Backend = "gcs"
				c.Storage.GCSBucket = ""
			},
			wantErr: "storage.gcs_bucket",
		},
		{
			name: "auth enabled without key",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKey = ""
			},
			wantErr: "auth.api_key",
		},
		{
			name: "non-positive preset",
			mutate: func(c *Config) {
				c.RateLimit.Presets["strict"] = PresetConfig{WindowSeconds: 0, MaxRequests: 10}
			},
			wantErr: "ratelimit.presets.strict",
		},
		{
			name:    "no tiers",
			mutate:  func(c *Config) { c.Plans.Tiers = nil },
			wantErr: "plans.tiers",
		},
		{
			name:    "default names no tier",
			mutate:  func(c *Config) { c.Plans.Default = "enterprise" },
			wantErr: "plans.default",
		},
		{
			name: "real runners without service urls",
			mutate: func(c *Config) {
				c.Steps.FakeMode = false
				c.Services = nil
			},
			wantErr: "base_url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
