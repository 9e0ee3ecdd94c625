package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// The Record* helpers are nil-safe so components can be built without metrics
// in tests and command-line tools.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditAppendsTotal       *prometheus.CounterVec
	AuditVerificationsTotal *prometheus.CounterVec
	AuditViolationsTotal    prometheus.Counter

	// Idempotency metrics
	IdempotencyOutcomesTotal *prometheus.CounterVec
	IdempotencyPurgedTotal   prometheus.Counter

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parish_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_authz_decisions_total",
				Help: "Authorization decisions by operation and reason",
			},
			[]string{"operation", "allowed", "reason"},
		),
		AuthzDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parish_authz_duration_seconds",
				Help:    "Time spent resolving a permission",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_cache_hits_total",
				Help: "Cache hits by namespace",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_cache_misses_total",
				Help: "Cache misses by namespace",
			},
			[]string{"cache"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_cache_evictions_total",
				Help: "Explicit cache evictions by namespace",
			},
			[]string{"cache"},
		),

		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_audit_appends_total",
				Help: "Audit entries appended",
			},
			[]string{"lineage", "chained"},
		),
		AuditVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_audit_verifications_total",
				Help: "Audit lineage verifications by result",
			},
			[]string{"result"},
		),
		AuditViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parish_audit_integrity_violations_total",
				Help: "Integrity violations found by chain verification",
			},
		),

		IdempotencyOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_idempotency_outcomes_total",
				Help: "Idempotency check outcomes",
			},
			[]string{"outcome"},
		),
		IdempotencyPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parish_idempotency_purged_total",
				Help: "Expired idempotency records removed",
			},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parish_store_errors_total",
				Help: "Backing store failures by component",
			},
			[]string{"component"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.AuditAppendsTotal,
		m.AuditVerificationsTotal,
		m.AuditViolationsTotal,
		m.IdempotencyOutcomesTotal,
		m.IdempotencyPurgedTotal,
		m.StoreErrorsTotal,
	)

	return m
}

// RecordDecision counts an authorization decision and its latency
func (m *Metrics) RecordDecision(operation string, allowed bool, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(operation, strconv.FormatBool(allowed), reason).Inc()
	m.AuthzDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordCacheHit counts a cache hit
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a cache miss
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordCacheEviction counts an explicit eviction
func (m *Metrics) RecordCacheEviction(cache string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// RecordAuditAppend counts an appended audit entry
func (m *Metrics) RecordAuditAppend(global bool, chained bool) {
	if m == nil {
		return
	}
	lineage := "tenant"
	if global {
		lineage = "global"
	}
	m.AuditAppendsTotal.WithLabelValues(lineage, strconv.FormatBool(chained)).Inc()
}

// RecordVerification counts a lineage verification and any violations found
func (m *Metrics) RecordVerification(violations int) {
	if m == nil {
		return
	}
	if violations > 0 {
		m.AuditVerificationsTotal.WithLabelValues("violated").Inc()
		m.AuditViolationsTotal.Add(float64(violations))
		return
	}
	m.AuditVerificationsTotal.WithLabelValues("intact").Inc()
}

// RecordIdempotency counts an idempotency outcome (new, duplicate, reused)
func (m *Metrics) RecordIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.IdempotencyOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordPurged counts expired idempotency records removed
func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.IdempotencyPurgedTotal.Add(float64(n))
}

// RecordStoreError counts a backing store failure
func (m *Metrics) RecordStoreError(component string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(component).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label (a route template); when nil the
// raw URL path is used.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
