package api

import (
	"net/http"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
)

const (
	entityTenantOverride = "tenant_role_permission"
	entityRolePermission = "role_permission"
)

type overrideRequest struct {
	Role          string `json:"role"`
	PermissionKey string `json:"permission_key"`
	Granted       *bool  `json:"granted"`
}

type rolePermissionRequest struct {
	PermissionKey string `json:"permission_key"`
}

type rolePermissionsResponse struct {
	Role        rbac.Role `json:"role"`
	Permissions []string  `json:"permissions"`
}

// listPermissions handles GET /v1/permissions
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.service.Resolver().Catalog().ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// listOverrides handles GET /v1/permissions/overrides
func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := contextkeys.GetTenantID(r.Context())
	overrides, err := s.service.Resolver().Catalog().ListTenantOverrides(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

// setOverride handles PUT /v1/permissions/overrides
func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := contextkeys.GetTenantID(ctx)
	actorID, _ := contextkeys.GetUserID(ctx)

	var req overrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionKey == "" || req.Granted == nil {
		httputil.WriteBadRequest(w, "permission_key and granted are required")
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o := rbac.TenantOverride{TenantID: tenantID, Role: role, PermissionKey: req.PermissionKey, Granted: *req.Granted}
	_, err = s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		before, err := tx.Catalog().TenantOverride(ctx, tenantID, role, req.PermissionKey)
		if err != nil {
			return nil, err
		}
		if err := s.service.Resolver().SetTenantOverrideTx(ctx, tx, o); err != nil {
			return nil, err
		}
		rec := overrideRecord(tenantID, actorID, "permission_override.set", role, req.PermissionKey)
		if before != nil {
			rec.Before = before
		}
		rec.After = o
		return []audit.Record{rec}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, o)
}

// clearOverride handles DELETE /v1/permissions/overrides?role=&permission=
func (s *Server) clearOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := contextkeys.GetTenantID(ctx)
	actorID, _ := contextkeys.GetUserID(ctx)

	key := httputil.ParseQueryString(r, "permission", "")
	if key == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}
	role, err := rbac.ParseRole(httputil.ParseQueryString(r, "role", ""))
	if err != nil {
		writeError(w, r, err)
		return
	}

	_, err = s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		before, err := tx.Catalog().TenantOverride(ctx, tenantID, role, key)
		if err != nil {
			return nil, err
		}
		if before == nil {
			return nil, errOverrideNotFound
		}
		if err := s.service.Resolver().ClearTenantOverrideTx(ctx, tx, tenantID, role, key); err != nil {
			return nil, err
		}
		rec := overrideRecord(tenantID, actorID, "permission_override.clear", role, key)
		rec.Before = before
		return []audit.Record{rec}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listRolePermissions handles GET /v1/roles/{role}/permissions
func (s *Server) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := parseRolePath(w, r)
	if !ok {
		return
	}
	keys, err := s.service.Resolver().Catalog().RolePermissions(r.Context(), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rolePermissionsResponse{Role: role, Permissions: keys})
}

// grantRolePermission handles POST /v1/roles/{role}/permissions. Global
// grants belong to no tenant, so they are audited in the global lineage.
func (s *Server) grantRolePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, _ := contextkeys.GetUserID(ctx)

	role, ok := parseRolePath(w, r)
	if !ok {
		return
	}
	var req rolePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionKey == "" {
		httputil.WriteBadRequest(w, "permission_key is required")
		return
	}

	rp := rbac.RolePermission{Role: role, PermissionKey: req.PermissionKey}
	_, err := s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		if err := s.service.Resolver().GrantRolePermissionTx(ctx, tx, role, req.PermissionKey); err != nil {
			return nil, err
		}
		rec := rolePermissionRecord(actorID, "role_permission.grant", rp)
		rec.After = rp
		return []audit.Record{rec}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, rp)
}

// revokeRolePermission handles DELETE /v1/roles/{role}/permissions/{key}
func (s *Server) revokeRolePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, _ := contextkeys.GetUserID(ctx)

	role, ok := parseRolePath(w, r)
	if !ok {
		return
	}
	key, err := httputil.ParsePathString(r, "key")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rp := rbac.RolePermission{Role: role, PermissionKey: key}
	_, err = s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		if err := s.service.Resolver().RevokeRolePermissionTx(ctx, tx, role, key); err != nil {
			return nil, err
		}
		rec := rolePermissionRecord(actorID, "role_permission.revoke", rp)
		rec.Before = rp
		return []audit.Record{rec}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// checkPermission handles GET /v1/authz/check?permission=
func (s *Server) checkPermission(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.GetTenantID(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "tenant required")
		return
	}
	key := httputil.ParseQueryString(r, "permission", "")
	if key == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	d, err := s.service.Resolver().Decide(r.Context(), tenantID, key, identity.FromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

func parseRolePath(w http.ResponseWriter, r *http.Request) (rbac.Role, bool) {
	raw, err := httputil.ParsePathString(r, "role")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	role, err := rbac.ParseRole(raw)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return role, true
}

func overrideRecord(tenantID, actorID int64, action string, role rbac.Role, key string) audit.Record {
	entityID := string(role) + ":" + key
	return audit.Record{
		TenantID:   &tenantID,
		ActorID:    &actorID,
		Action:     action,
		EntityType: entityTenantOverride,
		EntityID:   &entityID,
	}
}

func rolePermissionRecord(actorID int64, action string, rp rbac.RolePermission) audit.Record {
	entityID := string(rp.Role) + ":" + rp.PermissionKey
	return audit.Record{
		ActorID:    &actorID,
		Action:     action,
		EntityType: entityRolePermission,
		EntityID:   &entityID,
	}
}
