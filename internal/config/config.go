// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Counter   CounterConfig             `mapstructure:"counter"`
	Redis     RedisConfig               `mapstructure:"redis"`
	DB        DBConfig                  `mapstructure:"db"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Plans     PlansConfig               `mapstructure:"plans"`
	Steps     StepsConfig               `mapstructure:"steps"`
	YouTube   YouTubeConfig             `mapstructure:"youtube"`
	Services  map[string]ServiceConfig  `mapstructure:"services"`
	Storage   StorageConfig             `mapstructure:"storage"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RequestTimeout  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles for admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CounterConfig selects the counter store backend. "memory" is per-process;
// "redis" shares windows across replicas.
type CounterConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig holds connection settings for the shared counter backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PresetConfig is one fixed-window rate limit: max requests per window.
type PresetConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// RateLimitConfig names the limit presets applied per endpoint class.
type RateLimitConfig struct {
	Presets map[string]PresetConfig `mapstructure:"presets"`
}

// PlanConfig is one billing tier: per-dimension ceilings, 0 = unlimited.
type PlanConfig struct {
	Name   string           `mapstructure:"name"`
	Limits map[string]int64 `mapstructure:"limits"`
}

// PlansConfig orders the billing tiers from lowest to highest.
type PlansConfig struct {
	Default string       `mapstructure:"default"`
	Tiers   []PlanConfig `mapstructure:"tiers"`
}

// StepConfig tunes one pipeline step.
type StepConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	ETASeconds     int `mapstructure:"eta_seconds"`
}

// StepsConfig tunes the pipeline steps. FakeMode replaces every runner with
// a scripted one; no external calls are made.
type StepsConfig struct {
	FakeMode    bool                  `mapstructure:"fake_mode"`
	FakeDelayMs int                   `mapstructure:"fake_delay_ms"`
	PerStep     map[string]StepConfig `mapstructure:"per_step"`
}

// YouTubeConfig tunes the metadata extraction client.
type YouTubeConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ServiceConfig points at one remote collaborator service.
type ServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// StorageConfig selects and tunes the artifact blob backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion event publishing. Empty
// ProjectID keeps events in the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// The collaborator service keys expected under services.*.
const (
	ServiceMedia    = "media"
	ServiceSpeech   = "speech"
	ServiceAnalysis = "analysis"
	ServiceGraph    = "graph"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("counter.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.max_open_conns", 8)

	v.SetDefault("ratelimit.presets.strict.window_seconds", 60)
	v.SetDefault("ratelimit.presets.strict.max_requests", 10)
	v.SetDefault("ratelimit.presets.moderate.window_seconds", 60)
	v.SetDefault("ratelimit.presets.moderate.max_requests", 60)
	v.SetDefault("ratelimit.presets.lenient.window_seconds", 60)
	v.SetDefault("ratelimit.presets.lenient.max_requests", 300)
	v.SetDefault("ratelimit.presets.per_user.window_seconds", 3600)
	v.SetDefault("ratelimit.presets.per_user.max_requests", 1000)
	v.SetDefault("ratelimit.presets.per_endpoint.window_seconds", 60)
	v.SetDefault("ratelimit.presets.per_endpoint.max_requests", 100)

	v.SetDefault("plans.default", "free")
	v.SetDefault("plans.tiers", []map[string]any{
		{
			"name": "free",
			"limits": map[string]any{
				"video_processing":       3,
				"video_duration_minutes": 60,
				"storage_bytes":          100 << 20,
				"shares":                 10,
				"exports":                5,
				"api_calls":              1000,
			},
		},
		{
			"name": "pro",
			"limits": map[string]any{
				"video_processing":       50,
				"video_duration_minutes": 1500,
				"storage_bytes":          10 << 30,
				"shares":                 200,
				"exports":                100,
				"api_calls":              50000,
			},
		},
		{
			"name":   "premium",
			"limits": map[string]any{},
		},
	})

	// Fake mode by default so a bare binary starts without collaborator
	// services; deployments turn it off and supply services.*.base_url.
	v.SetDefault("steps.fake_mode", true)
	v.SetDefault("steps.fake_delay_ms", 50)
	v.SetDefault("steps.per_step.extract_info.timeout_seconds", 30)
	v.SetDefault("steps.per_step.extract_info.eta_seconds", 5)
	v.SetDefault("steps.per_step.extract_audio.timeout_seconds", 300)
	v.SetDefault("steps.per_step.extract_audio.eta_seconds", 45)
	v.SetDefault("steps.per_step.transcribe.timeout_seconds", 900)
	v.SetDefault("steps.per_step.transcribe.eta_seconds", 120)
	v.SetDefault("steps.per_step.analyze_content.timeout_seconds", 600)
	v.SetDefault("steps.per_step.analyze_content.eta_seconds", 60)
	v.SetDefault("steps.per_step.generate_knowledge_graph.timeout_seconds", 300)
	v.SetDefault("steps.per_step.generate_knowledge_graph.eta_seconds", 30)
	v.SetDefault("steps.per_step.finalize.timeout_seconds", 60)
	v.SetDefault("steps.per_step.finalize.eta_seconds", 5)

	v.SetDefault("youtube.timeout_seconds", 15)
	v.SetDefault("youtube.requests_per_second", 1.0)
	v.SetDefault("youtube.burst", 2)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.content_type", "application/json")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Counter.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when counter.backend is redis")
		}
	default:
		return fmt.Errorf("counter.backend must be memory or redis, got %q", c.Counter.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs, got %q", c.Storage.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, preset := range c.RateLimit.Presets {
		if preset.WindowSeconds <= 0 || preset.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit.presets.%s must have positive window and max", name)
		}
	}
	if len(c.Plans.Tiers) == 0 {
		return fmt.Errorf("plans.tiers must not be empty")
	}
	found := false
	for _, tier := range c.Plans.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("plans.tiers entries must be named")
		}
		if tier.Name == c.Plans.Default {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("plans.default %q does not name a tier", c.Plans.Default)
	}
	if !c.Steps.FakeMode {
		for _, key := range []string{ServiceMedia, ServiceSpeech, ServiceAnalysis, ServiceGraph} {
			if c.Services[key].BaseURL == "" {
				return fmt.Errorf("services.%s.base_url must be set unless steps.fake_mode is on", key)
			}
		}
	}
	return nil
}

// RequestTimeoutDuration converts the configured request budget to a duration.
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ShutdownTimeoutDuration converts the configured drain budget to a duration.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
