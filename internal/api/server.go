// Package api exposes the HTTP interface for the video pipeline service.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/videos/process for job submission behind admission control.
//   - GET /v1/videos/{process_id}/status|result for polling.
//   - POST /v1/quota/... for quota checks, usage views, and usage recording.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/studylens/video-pipeline/internal/admission"
	"github.com/studylens/video-pipeline/internal/orchestrator"
	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/quota"
	"github.com/studylens/video-pipeline/internal/ratelimit"
	"github.com/studylens/video-pipeline/internal/telemetry"
)

// Config tunes server behavior independent of the wiring.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
	// Presets maps endpoint classes to their rate-limit windows.
	Presets map[string]ratelimit.Preset
}

// Server wires HTTP handlers to the admission gateway, job registry, and
// orchestrator.
type Server struct {
	router   chi.Router
	jobs     pipeline.JobStore
	ledger   *quota.Ledger
	gateway  *admission.Gateway
	limiter  *ratelimit.Limiter
	orch     *orchestrator.Orchestrator
	idGen    pipeline.IDGenerator
	clock    pipeline.Clock
	validate *validator.Validate
	logger   *zap.Logger
	cfg      Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs pipeline.JobStore,
	ledger *quota.Ledger,
	gateway *admission.Gateway,
	limiter *ratelimit.Limiter,
	orch *orchestrator.Orchestrator,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		jobs:     jobs,
		ledger:   ledger,
		gateway:  gateway,
		limiter:  limiter,
		orch:     orch,
		idGen:    idGen,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		cfg:      cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.Post("/process", s.submitVideo)
			r.Route("/{process_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
			})
		})
		r.Route("/quota", func(r chi.Router) {
			r.Post("/check", s.quotaCheck)
			r.Get("/usage", s.quotaUsage)
			r.Post("/usage/record", s.quotaRecord)
		})
		r.Route("/admin", func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/ratelimit/reset", s.resetRateLimits)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Stores fail per-request; the process is ready once it is serving.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// preset returns the configured window for an endpoint class, with a
// conservative fallback when the class is not configured.
func (s *Server) preset(name string) ratelimit.Preset {
	if p, ok := s.cfg.Presets[name]; ok {
		return p
	}
	return ratelimit.Preset{Window: time.Minute, MaxRequests: 10}
}

// subjectID resolves the caller's business identity. Token validation happens
// upstream; anonymous callers are keyed by network address.
func subjectID(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return user
	}
	return "anon:" + ratelimit.ByIP(r)
}
