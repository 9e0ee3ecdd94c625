package api

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
)

// TenantHeader selects the tenant a request acts in
const TenantHeader = "X-Tenant-ID"

// TenantMiddleware places the X-Tenant-ID header on the context. A missing
// header is left to the handlers that need a tenant; a malformed one is
// rejected.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(TenantHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			httputil.WriteBadRequest(w, "invalid "+TenantHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithTenantID(r.Context(), tenantID)))
	})
}
