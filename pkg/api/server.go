package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/core"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
)

// Server represents our API server
type Server struct {
	router  *mux.Router
	service *core.Service
	bearer  *identity.BearerMiddleware
	perms   *rbac.PermissionMiddleware
	idem    *idempotency.Middleware
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithBearer replaces the default bearer middleware
func WithBearer(b *identity.BearerMiddleware) ServerOption {
	return func(s *Server) { s.bearer = b }
}

// WithServerMetrics records HTTP request metrics
func WithServerMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new API server
func NewServer(service *core.Service, logger *observability.Logger, opts ...ServerOption) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		bearer:  identity.NewBearerMiddleware(),
		perms:   rbac.NewPermissionMiddleware(service.Resolver()),
		idem:    idempotency.NewMiddleware(service.Guard()),
		logger:  observability.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	authed := chain(s.bearer.Handler, TenantMiddleware)
	inTenant := func(key string) func(http.Handler) http.Handler {
		return chain(authed, s.perms.RequirePermission(key))
	}
	anyTenant := func(key string) func(http.Handler) http.Handler {
		return chain(s.bearer.Handler, s.perms.RequireAnyTenant(key))
	}
	// the key is checked before authorization so a replay never re-runs it
	idempotent := func(key string) func(http.Handler) http.Handler {
		return chain(authed, s.idem.Handler, s.perms.RequirePermission(key))
	}

	r := s.router

	// Permission registry
	r.Handle("/v1/permissions", authed(http.HandlerFunc(s.listPermissions))).Methods(http.MethodGet)

	// Memberships
	r.Handle("/v1/memberships", inTenant(rbac.PermUsersView)(http.HandlerFunc(s.listMemberships))).Methods(http.MethodGet)
	r.Handle("/v1/memberships", idempotent(rbac.PermUsersManage)(http.HandlerFunc(s.grantMembership))).Methods(http.MethodPost)
	r.Handle("/v1/memberships/{userID}", inTenant(rbac.PermUsersManage)(http.HandlerFunc(s.updateMembership))).Methods(http.MethodPatch)
	r.Handle("/v1/memberships/{userID}", inTenant(rbac.PermUsersManage)(http.HandlerFunc(s.deactivateMembership))).Methods(http.MethodDelete)

	// Tenant overrides
	r.Handle("/v1/permissions/overrides", inTenant(rbac.PermPermissionsGrant)(http.HandlerFunc(s.listOverrides))).Methods(http.MethodGet)
	r.Handle("/v1/permissions/overrides", inTenant(rbac.PermPermissionsGrant)(http.HandlerFunc(s.setOverride))).Methods(http.MethodPut)
	r.Handle("/v1/permissions/overrides", inTenant(rbac.PermPermissionsGrant)(http.HandlerFunc(s.clearOverride))).Methods(http.MethodDelete)

	// Global role grants
	r.Handle("/v1/roles/{role}/permissions", authed(http.HandlerFunc(s.listRolePermissions))).Methods(http.MethodGet)
	r.Handle("/v1/roles/{role}/permissions", anyTenant(rbac.PermPermissionsGrant)(http.HandlerFunc(s.grantRolePermission))).Methods(http.MethodPost)
	r.Handle("/v1/roles/{role}/permissions/{key}", anyTenant(rbac.PermPermissionsGrant)(http.HandlerFunc(s.revokeRolePermission))).Methods(http.MethodDelete)

	// Authorization diagnostics
	r.Handle("/v1/authz/check", authed(http.HandlerFunc(s.checkPermission))).Methods(http.MethodGet)

	// Audit log
	verifier := audit.NewVerifier(s.service.Chain(), s.logger, s.metrics)
	audit.NewHandlers(s.service.Chain(), verifier).RegisterRoutes(r, inTenant(rbac.PermAuditView))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// routeTemplate labels metrics by the matched route, not the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// chain applies middlewares so that the first one listed runs first
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}
