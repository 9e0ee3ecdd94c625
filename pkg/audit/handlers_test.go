package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
)

// tenantGuard stands in for the permission middleware: it scopes the request
// to the X-Tenant-ID header.
func tenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("X-Tenant-ID"); h != "" {
			var id int64
			for _, c := range h {
				id = id*10 + int64(c-'0')
			}
			r = r.WithContext(contextkeys.WithTenantID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T, chain *Chain) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(chain, NewVerifier(chain, nil, nil)).RegisterRoutes(router, tenantGuard)
	return router
}

func serve(router http.Handler, target, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Search(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := chain.Log(ctx, record(ptr(int64(1)), "sacrament.create", nil))
		require.NoError(t, err)
	}
	_, err := chain.Log(ctx, record(ptr(int64(2)), "sacrament.create", nil))
	require.NoError(t, err)
	router := newTestRouter(t, chain)

	rec := serve(router, "/v1/audit?limit=2", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var page CursorPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	for _, e := range page.Items {
		assert.Equal(t, int64(1), *e.TenantID)
	}

	rec = serve(router, "/v1/audit?cursor="+page.NextCursor, "1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	assert.Equal(t, http.StatusBadRequest, serve(router, "/v1/audit", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, "/v1/audit?from=yesterday", "1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, "/v1/audit?actor=abc", "1").Code)
}

func TestHandlers_Verify(t *testing.T) {
	chain, db := newTestChain(t)
	ctx := context.Background()
	e, err := chain.Log(ctx, record(ptr(int64(1)), "sacrament.create", map[string]string{"k": "v"}))
	require.NoError(t, err)
	router := newTestRouter(t, chain)

	rec := serve(router, "/v1/audit/verify", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var report VerificationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Intact())
	assert.Equal(t, "tenant:1", report.Lineage)

	_, err = db.Exec(`UPDATE audit_log SET action = 'sacrament.delete' WHERE id = $1`, e.ID)
	require.NoError(t, err)
	rec = serve(router, "/v1/audit/verify", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Violations, 1)
	assert.Equal(t, ViolationHashMismatch, report.Violations[0].Kind)

	disabled := NewChain(db, WithHashChain(false))
	rec = serve(newTestRouter(t, disabled), "/v1/audit/verify", "1")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandlers_Export(t *testing.T) {
	chain, _ := newTestChain(t)
	_, err := chain.Log(context.Background(), record(ptr(int64(1)), "sacrament.create", nil))
	require.NoError(t, err)
	router := newTestRouter(t, chain)

	rec := serve(router, "/v1/audit/export", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "\n"))

	rec = serve(router, "/v1/audit/export?format=csv", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "\n"))

	assert.Equal(t, http.StatusBadRequest, serve(router, "/v1/audit/export?format=xml", "1").Code)
}

func TestScheduleVerification(t *testing.T) {
	chain, _ := newTestChain(t)
	_, err := chain.Log(context.Background(), record(nil, "role_permission.grant", nil))
	require.NoError(t, err)
	v := NewVerifier(chain, nil, nil)

	c := cron.New()
	id, err := ScheduleVerification(c, "@every 1h", v, time.Second)
	require.NoError(t, err)

	entry := c.Entry(id)
	require.NotNil(t, entry.Job)
	assert.NotPanics(t, entry.Job.Run)

	_, err = ScheduleVerification(c, "not a schedule", v, time.Second)
	assert.Error(t, err)
}
