// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// admission path.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	admissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_admission_decisions_total",
			Help: "Admission gateway decisions, labeled by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	rateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ratelimit_requests_total",
			Help: "Rate limiter checks, labeled by result.",
		},
		[]string{"allowed"},
	)

	rateLimitFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_ratelimit_failopen_total",
			Help: "Requests allowed because the counter store was unreachable.",
		},
	)

	quotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_quota_checks_total",
			Help: "Quota ledger checks, labeled by dimension and result.",
		},
		[]string{"quota_type", "allowed"},
	)

	quotaRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_quota_recorded_total",
			Help: "Usage amounts recorded against the ledger, labeled by dimension.",
		},
		[]string{"quota_type"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAdmission records an admission gateway decision.
func ObserveAdmission(allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	if reason == "" {
		reason = "none"
	}
	admissionDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveRateLimit records a rate limiter check.
func ObserveRateLimit(allowed bool) {
	rateLimitRequestsTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// ObserveRateLimitFailOpen records a fail-open admission.
func ObserveRateLimitFailOpen() {
	rateLimitFailOpenTotal.Inc()
}

// ObserveQuotaCheck records a quota ledger check.
func ObserveQuotaCheck(quotaType string, allowed bool) {
	quotaChecksTotal.WithLabelValues(quotaType, strconv.FormatBool(allowed)).Inc()
}

// ObserveQuotaRecorded records usage charged against the ledger.
func ObserveQuotaRecorded(quotaType string, amount int64) {
	if amount > 0 {
		quotaRecordedTotal.WithLabelValues(quotaType).Add(float64(amount))
	}
}
