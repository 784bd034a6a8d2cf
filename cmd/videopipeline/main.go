// Package main wires together the video pipeline service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/admission"
	"github.com/studylens/video-pipeline/internal/api"
	"github.com/studylens/video-pipeline/internal/clock/system"
	"github.com/studylens/video-pipeline/internal/config"
	countermemory "github.com/studylens/video-pipeline/internal/counter/memory"
	counterredis "github.com/studylens/video-pipeline/internal/counter/redis"
	"github.com/studylens/video-pipeline/internal/hash/sha256"
	"github.com/studylens/video-pipeline/internal/id/uuid"
	"github.com/studylens/video-pipeline/internal/logging"
	"github.com/studylens/video-pipeline/internal/orchestrator"
	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/progress"
	"github.com/studylens/video-pipeline/internal/progress/sinks"
	memorypublisher "github.com/studylens/video-pipeline/internal/publisher/memory"
	pubsubpublisher "github.com/studylens/video-pipeline/internal/publisher/pubsub"
	"github.com/studylens/video-pipeline/internal/quota"
	"github.com/studylens/video-pipeline/internal/ratelimit"
	"github.com/studylens/video-pipeline/internal/steps"
	"github.com/studylens/video-pipeline/internal/steps/fake"
	"github.com/studylens/video-pipeline/internal/steps/remote"
	"github.com/studylens/video-pipeline/internal/steps/youtube"
	"github.com/studylens/video-pipeline/internal/storage/gcs"
	"github.com/studylens/video-pipeline/internal/storage/local"
	storagememory "github.com/studylens/video-pipeline/internal/storage/memory"
	"github.com/studylens/video-pipeline/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	counters, err := buildCounterStore(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}

	jobStore, usageStore, err := buildStores(ctx, cfg, clock)
	if err != nil {
		return err
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	plans, resolver, err := buildPlans(cfg.Plans)
	if err != nil {
		return err
	}
	ledger := quota.NewLedger(usageStore, plans, resolver, clock, logger.Named("quota"))
	limiter := ratelimit.New(counters, clock, logger.Named("ratelimit"))
	gateway := admission.New(limiter, ledger, logger.Named("admission"))

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	orchSteps, err := buildSteps(cfg, clock, logger)
	if err != nil {
		return err
	}
	orch := orchestrator.New(
		ctx,
		jobStore,
		ledger,
		blobs,
		publisher,
		hasher,
		clock,
		hub,
		orchSteps,
		orchestrator.Config{
			ArtifactPrefix:      cfg.Storage.Prefix,
			ArtifactContentType: cfg.Storage.ContentType,
			Topic:               cfg.PubSub.TopicName,
		},
		logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(
		jobStore,
		ledger,
		gateway,
		limiter,
		orch,
		idGen,
		clock,
		api.Config{
			RequestTimeout: cfg.Server.RequestTimeoutDuration(),
			AuthEnabled:    cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
			Presets:        buildPresets(cfg.RateLimit),
		},
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// In-flight jobs finish against the canceled base context; their steps
	// fail fast and finalize the job records before Wait returns.
	orch.Wait()
	return nil
}

func buildCounterStore(ctx context.Context, cfg config.Config, clock pipeline.Clock, logger *zap.Logger) (pipeline.CounterStore, error) {
	switch cfg.Counter.Backend {
	case "redis":
		store, err := counterredis.New(ctx, counterredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("connect redis counter store: %w", err)
		}
		logger.Info("using redis counter store", zap.String("addr", cfg.Redis.Addr))
		return store, nil
	default:
		return countermemory.New(clock), nil
	}
}

func buildStores(ctx context.Context, cfg config.Config, clock pipeline.Clock) (pipeline.JobStore, quota.UsageStore, error) {
	if cfg.DB.DSN == "" {
		return storagememory.NewJobStore(clock), storagememory.NewUsageStore(), nil
	}
	jobStore, err := postgres.NewJobStore(ctx, cfg.DB.DSN, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect job store: %w", err)
	}
	usageStore, err := postgres.NewUsageStore(ctx, cfg.DB.DSN, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect usage store: %w", err)
	}
	return jobStore, usageStore, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (pipeline.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return storagememory.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	closeFn := func() {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	return pub, closeFn, nil
}

func buildPlans(cfg config.PlansConfig) (*quota.PlanSet, quota.PlanResolver, error) {
	tiers := make([]quota.Plan, 0, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		limits := make(map[pipeline.QuotaType]int64, len(tier.Limits))
		for name, v := range tier.Limits {
			t := pipeline.QuotaType(name)
			if !pipeline.ValidQuotaType(t) {
				return nil, nil, fmt.Errorf("plan %q limits unknown quota type %q", tier.Name, name)
			}
			limits[t] = v
		}
		tiers = append(tiers, quota.Plan{Name: tier.Name, Limits: limits})
	}
	plans, err := quota.NewPlanSet(tiers)
	if err != nil {
		return nil, nil, fmt.Errorf("build plan set: %w", err)
	}
	return plans, quota.StaticResolver{Default: cfg.Default}, nil
}

func buildPresets(cfg config.RateLimitConfig) map[string]ratelimit.Preset {
	presets := make(map[string]ratelimit.Preset, len(cfg.Presets))
	for name, p := range cfg.Presets {
		presets[name] = ratelimit.Preset{
			Window:      time.Duration(p.WindowSeconds) * time.Second,
			MaxRequests: int64(p.MaxRequests),
		}
	}
	return presets
}

func buildSteps(cfg config.Config, clock pipeline.Clock, logger *zap.Logger) ([]orchestrator.Step, error) {
	var runners map[pipeline.StepName]pipeline.StepRunner
	if cfg.Steps.FakeMode {
		runners = fake.Set(time.Duration(cfg.Steps.FakeDelayMs) * time.Millisecond)
	} else {
		client := func(key string) *remote.Client {
			svc := cfg.Services[key]
			return remote.NewClient(remote.Config{
				BaseURL:     svc.BaseURL,
				APIKey:      svc.APIKey,
				Timeout:     time.Duration(svc.TimeoutSeconds) * time.Second,
				MaxAttempts: svc.MaxRetries,
			}, logger.Named(key))
		}
		runners = map[pipeline.StepName]pipeline.StepRunner{
			pipeline.StepExtractInfo: youtube.NewInfoRunner(youtube.Config{
				UserAgent:         cfg.YouTube.UserAgent,
				Timeout:           time.Duration(cfg.YouTube.TimeoutSeconds) * time.Second,
				RequestsPerSecond: cfg.YouTube.RequestsPerSecond,
				Burst:             cfg.YouTube.Burst,
			}, logger.Named("youtube")),
			pipeline.StepExtractAudio:   remote.NewAudioRunner(client(config.ServiceMedia)),
			pipeline.StepTranscribe:     remote.NewTranscribeRunner(client(config.ServiceSpeech)),
			pipeline.StepAnalyzeContent: remote.NewAnalyzeRunner(client(config.ServiceAnalysis)),
			pipeline.StepKnowledgeGraph: remote.NewGraphRunner(client(config.ServiceGraph)),
			pipeline.StepFinalize:       steps.NewFinalizeRunner(clock),
		}
	}

	var out []orchestrator.Step
	for _, name := range pipeline.StepOrder() {
		runner, ok := runners[name]
		if !ok {
			return nil, fmt.Errorf("no runner for step %s", name)
		}
		tuning := cfg.Steps.PerStep[string(name)]
		out = append(out, orchestrator.Step{
			Name:       name,
			Runner:     runner,
			Timeout:    time.Duration(tuning.TimeoutSeconds) * time.Second,
			ETASeconds: tuning.ETASeconds,
		})
	}
	return out, nil
}
