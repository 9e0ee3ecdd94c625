package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("can", true, "super_admin", time.Millisecond)
		m.RecordCacheHit("membership")
		m.RecordCacheMiss("membership")
		m.RecordCacheEviction("membership")
		m.RecordAuditAppend(true, false)
		m.RecordVerification(2)
		m.RecordIdempotency("new")
		m.RecordPurged(5)
		m.RecordStoreError("rbac")
	})
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision("can", false, "no_membership", time.Millisecond)
	m.RecordDecision("can", false, "no_membership", time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("can", "false", "no_membership")))

	m.RecordAuditAppend(false, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditAppendsTotal.WithLabelValues("tenant", "true")))

	m.RecordVerification(0)
	m.RecordVerification(3)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditVerificationsTotal.WithLabelValues("intact")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.AuditViolationsTotal))

	m.RecordPurged(0)
	m.RecordPurged(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.IdempotencyPurgedTotal))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/v1/audit" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?cursor=3", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/audit", "418")))

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "parish_http_requests_total"))
}
