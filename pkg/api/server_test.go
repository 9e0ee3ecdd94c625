package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/cache"
	"github.com/platinummonkey/parish-registry/pkg/core"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

const (
	tenant      int64 = 1
	otherParish int64 = 2

	adminID  int64 = 100
	viewerID int64 = 101
	priestID int64 = 102
)

type testAPI struct {
	t       *testing.T
	server  *Server
	service *core.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := storagetest.NewSQLite(t,
		storage.MigrationSet{Component: identity.MigrationComponent, Migrations: identity.Migrations()},
		storage.MigrationSet{Component: rbac.MigrationComponent, Migrations: rbac.Migrations()},
		storage.MigrationSet{Component: audit.MigrationComponent, Migrations: audit.Migrations()},
		storage.MigrationSet{Component: idempotency.MigrationComponent, Migrations: idempotency.Migrations()},
	)
	ctx := context.Background()
	require.NoError(t, rbac.ApplySeed(ctx, rbac.NewCatalog(db), rbac.DefaultSeed()))

	resolver := rbac.NewResolver(db, identity.NewResolver(identity.NewSQLDirectory(db), nil), cache.NewLRUCache(256, time.Hour))
	service := core.NewService(resolver,
		audit.NewChain(db, audit.WithDialect(storage.DialectSQLite)),
		idempotency.NewGuard(idempotency.NewSQLStore(db)),
		nil,
	)

	for _, m := range []rbac.Membership{
		{UserID: adminID, TenantID: tenant, Role: rbac.RoleParishAdmin},
		{UserID: viewerID, TenantID: tenant, Role: rbac.RoleViewer},
		{UserID: priestID, TenantID: otherParish, Role: rbac.RolePriest},
	} {
		require.NoError(t, resolver.GrantMembership(ctx, &m))
	}

	return &testAPI{t: t, server: NewServer(service, nil), service: service}
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: strconv.FormatInt(userID, 10)},
	}).SignedString([]byte("upstream"))
	require.NoError(t, err)
	return "Bearer " + s
}

type call struct {
	method, path string
	user         int64
	tenant       int64
	key          string
	body         interface{}
}

func (a *testAPI) do(c call) *httptest.ResponseRecorder {
	a.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(a.t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.user != 0 {
		req.Header.Set("Authorization", bearer(a.t, c.user))
	}
	if c.tenant != 0 {
		req.Header.Set(TenantHeader, strconv.FormatInt(c.tenant, 10))
	}
	if c.key != "" {
		req.Header.Set(idempotency.HeaderKey, c.key)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) auditEntries(tenantID *int64) []audit.Entry {
	a.t.Helper()
	page, err := a.service.Chain().Store().Search(context.Background(), audit.Filter{TenantID: tenantID, Limit: audit.MaxLimit})
	require.NoError(a.t, err)
	return page.Items
}

func (a *testAPI) decide(userID int64, key string) rbac.Decision {
	a.t.Helper()
	rec := a.do(call{method: http.MethodGet, path: "/v1/authz/check?permission=" + key, user: userID, tenant: tenant})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var d rbac.Decision
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &d))
	return d
}

func TestAPI_Authentication(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, a.do(call{method: http.MethodGet, path: "/v1/memberships", tenant: tenant}).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/memberships", nil)
	req.Header.Set("Authorization", bearer(t, adminID))
	req.Header.Set(TenantHeader, "parish-one")
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, a.do(call{method: http.MethodGet, path: "/v1/memberships", user: adminID}).Code, "tenant required")
	assert.Equal(t, http.StatusOK, a.do(call{method: http.MethodGet, path: "/v1/memberships", user: adminID, tenant: tenant}).Code)
	assert.Equal(t, http.StatusOK, a.do(call{method: http.MethodGet, path: "/v1/permissions", user: viewerID}).Code)
}

func TestAPI_GrantMembershipIsIdempotentAndAudited(t *testing.T) {
	a := newTestAPI(t)
	grant := call{
		method: http.MethodPost, path: "/v1/memberships", user: adminID, tenant: tenant, key: "grant-200",
		body: map[string]interface{}{"user_id": 200, "role": "registrar"},
	}

	rec := a.do(grant)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m rbac.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, rbac.RoleRegistrar, m.Role)
	assert.Equal(t, adminID, *m.GrantedBy)

	rec = a.do(grant)
	assert.Equal(t, http.StatusCreated, rec.Code, "replayed")
	assert.Equal(t, "true", rec.Header().Get(idempotency.HeaderReplayed))

	grant.key = ""
	assert.Equal(t, http.StatusBadRequest, a.do(grant).Code, "key required")

	grant.key = "grant-200-again"
	assert.Equal(t, http.StatusConflict, a.do(grant).Code, "membership already exists")

	entries := a.auditEntries(ptr(tenant))
	require.Len(t, entries, 1, "the replay and the conflict left no entries")
	assert.Equal(t, "membership.grant", entries[0].Action)
	assert.Equal(t, "200", *entries[0].EntityID)
	assert.Equal(t, adminID, *entries[0].ActorID)
	assert.Empty(t, entries[0].Before)

	assert.True(t, a.decide(200, rbac.PermSacramentsUpdate).Allowed)
}

func TestAPI_RoleCeiling(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(call{
		method: http.MethodPost, path: "/v1/memberships", user: adminID, tenant: tenant, key: "k1",
		body: map[string]interface{}{"user_id": 300, "role": "SUPER_ADMIN"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(call{
		method: http.MethodPost, path: "/v1/memberships", user: viewerID, tenant: tenant, key: "k2",
		body: map[string]interface{}{"user_id": 300, "role": "VIEWER"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "viewer lacks users.manage")

	rec = a.do(call{
		method: http.MethodPost, path: "/v1/memberships", user: adminID, tenant: tenant, key: "k3",
		body: map[string]interface{}{"user_id": 300, "role": "DEACON"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, a.auditEntries(ptr(tenant)))
}

func TestAPI_UpdateAndDeactivateMembership(t *testing.T) {
	a := newTestAPI(t)
	path := "/v1/memberships/" + strconv.FormatInt(viewerID, 10)

	rec := a.do(call{method: http.MethodPatch, path: path, user: adminID, tenant: tenant, body: map[string]interface{}{"role": "PRIEST"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m rbac.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, rbac.RolePriest, m.Role)
	assert.True(t, a.decide(viewerID, rbac.PermSacramentsCreate).Allowed, "role change visible immediately")

	assert.Equal(t, http.StatusBadRequest, a.do(call{method: http.MethodPatch, path: path, user: adminID, tenant: tenant, body: map[string]interface{}{}}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(call{method: http.MethodPatch, path: "/v1/memberships/999", user: adminID, tenant: tenant, body: map[string]interface{}{"role": "VIEWER"}}).Code)

	rec = a.do(call{method: http.MethodDelete, path: path, user: adminID, tenant: tenant})
	require.Equal(t, http.StatusNoContent, rec.Code)
	d := a.decide(viewerID, rbac.PermSacramentsView)
	assert.False(t, d.Allowed)
	assert.Equal(t, rbac.ReasonNoMembership, d.Reason)

	entries := a.auditEntries(ptr(tenant))
	require.Len(t, entries, 2)
	assert.Equal(t, "membership.update", entries[0].Action)
	assert.Contains(t, string(entries[0].Before), `"role":"VIEWER"`)
	assert.Contains(t, string(entries[0].After), `"role":"PRIEST"`)
	assert.Equal(t, "membership.deactivate", entries[1].Action)
	assert.Contains(t, string(entries[1].After), `"status":"INACTIVE"`)
	assert.Equal(t, *entries[0].Hash, *entries[1].PrevHash)
}

func TestAPI_TenantOverrides(t *testing.T) {
	a := newTestAPI(t)
	require.False(t, a.decide(viewerID, rbac.PermSacramentsCreate).Allowed)

	rec := a.do(call{method: http.MethodPut, path: "/v1/permissions/overrides", user: adminID, tenant: tenant,
		body: map[string]interface{}{"role": "VIEWER", "permission_key": rbac.PermSacramentsCreate, "granted": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d := a.decide(viewerID, rbac.PermSacramentsCreate)
	assert.True(t, d.Allowed)
	assert.Equal(t, rbac.ReasonTenantOverride, d.Reason)

	rec = a.do(call{method: http.MethodGet, path: "/v1/permissions/overrides", user: adminID, tenant: tenant})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.PermSacramentsCreate)

	rec = a.do(call{method: http.MethodPut, path: "/v1/permissions/overrides", user: adminID, tenant: tenant,
		body: map[string]interface{}{"role": "VIEWER", "permission_key": "sacraments.burn", "granted": true}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown permission key")

	clear := call{method: http.MethodDelete, path: "/v1/permissions/overrides?role=VIEWER&permission=" + rbac.PermSacramentsCreate, user: adminID, tenant: tenant}
	assert.Equal(t, http.StatusNoContent, a.do(clear).Code)
	assert.Equal(t, http.StatusNotFound, a.do(clear).Code)
	assert.False(t, a.decide(viewerID, rbac.PermSacramentsCreate).Allowed)

	assert.Equal(t, http.StatusForbidden, a.do(call{method: http.MethodGet, path: "/v1/permissions/overrides", user: viewerID, tenant: tenant}).Code)
	assert.Len(t, a.auditEntries(ptr(tenant)), 2)
}

func TestAPI_RolePermissions(t *testing.T) {
	a := newTestAPI(t)

	grant := call{method: http.MethodPost, path: "/v1/roles/PRIEST/permissions", user: adminID,
		body: map[string]interface{}{"permission_key": rbac.PermUsersView}}
	rec := a.do(grant)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// the priest's own tenant sees the new global grant
	ok, err := a.service.Authorize(context.Background(), otherParish, rbac.PermUsersView, &identity.Token{Subject: strconv.FormatInt(priestID, 10)})
	require.NoError(t, err)
	assert.True(t, ok)

	grant.user = priestID
	assert.Equal(t, http.StatusForbidden, a.do(grant).Code, "priest holds permissions.grant nowhere")

	rec = a.do(call{method: http.MethodGet, path: "/v1/roles/PRIEST/permissions", user: priestID})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rolePermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Permissions, rbac.PermUsersView)

	assert.Equal(t, http.StatusNoContent, a.do(call{method: http.MethodDelete, path: "/v1/roles/PRIEST/permissions/" + rbac.PermUsersView, user: adminID}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(call{method: http.MethodGet, path: "/v1/roles/ABBOT/permissions", user: adminID}).Code)

	global := a.auditEntries(nil)
	var actions []string
	for _, e := range global {
		if e.TenantID == nil {
			actions = append(actions, e.Action)
		}
	}
	assert.Equal(t, []string{"role_permission.grant", "role_permission.revoke"}, actions)
}

func TestAPI_AuditRoutes(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(call{method: http.MethodPatch, path: "/v1/memberships/" + strconv.FormatInt(viewerID, 10), user: adminID, tenant: tenant,
		body: map[string]interface{}{"role": "REGISTRAR"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(call{method: http.MethodGet, path: "/v1/audit", user: adminID, tenant: tenant})
	require.Equal(t, http.StatusOK, rec.Code)
	var page audit.CursorPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)

	rec = a.do(call{method: http.MethodGet, path: "/v1/audit/verify", user: adminID, tenant: tenant})
	require.Equal(t, http.StatusOK, rec.Code)
	var report audit.VerificationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Intact())

	assert.Equal(t, http.StatusForbidden, a.do(call{method: http.MethodGet, path: "/v1/audit", user: viewerID, tenant: tenant}).Code)
}

func ptr[T any](v T) *T { return &v }
