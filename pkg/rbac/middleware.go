package rbac

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// PermissionMiddleware guards handlers with resolver checks
type PermissionMiddleware struct {
	resolver *Resolver
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver *Resolver) *PermissionMiddleware {
	return &PermissionMiddleware{resolver: resolver}
}

// RequirePermission requires key in the request's tenant. On success the
// resolved user id is placed on the context for audit attribution.
func (pm *PermissionMiddleware) RequirePermission(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := identity.FromRequest(r)
			if tok == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			tenantID, ok := contextkeys.GetTenantID(r.Context())
			if !ok {
				httputil.WriteBadRequest(w, "tenant required")
				return
			}

			d, err := pm.resolver.Decide(r.Context(), tenantID, key, tok)
			if err != nil {
				writeCheckError(w, r, err)
				return
			}
			if !d.Allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			ctx := contextkeys.WithUserID(r.Context(), d.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAnyTenant requires key in at least one of the principal's tenants,
// for administrative actions that have no tenant of their own.
func (pm *PermissionMiddleware) RequireAnyTenant(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := identity.FromRequest(r)
			if tok == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := pm.resolver.HasPermissionInAnyTenant(r.Context(), key, tok)
			if err != nil {
				writeCheckError(w, r, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			userID, err := pm.resolver.identities.Resolve(r.Context(), tok)
			if err != nil {
				writeCheckError(w, r, err)
				return
			}
			ctx := contextkeys.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeCheckError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
	if errors.Is(err, storage.ErrUnavailable) {
		httputil.WriteServiceUnavailable(w, "permission check unavailable")
		return
	}
	httputil.WriteInternalError(w)
}
