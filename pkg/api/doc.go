// Package api is the HTTP adapter over pkg/core.
//
// Requests pass through bearer authentication, tenant selection from the
// X-Tenant-ID header, the Idempotency-Key check on creating routes and a
// permission check before reaching a handler. Every mutation runs its store
// write and audit append in one transaction.
//
// Routes:
//
//	GET    /v1/permissions                      list the permission registry
//	GET    /v1/memberships                      users.view
//	POST   /v1/memberships                      users.manage, idempotent
//	PATCH  /v1/memberships/{userID}             users.manage
//	DELETE /v1/memberships/{userID}             users.manage (logical)
//	GET    /v1/permissions/overrides            permissions.grant
//	PUT    /v1/permissions/overrides            permissions.grant
//	DELETE /v1/permissions/overrides            permissions.grant
//	GET    /v1/roles/{role}/permissions         any authenticated user
//	POST   /v1/roles/{role}/permissions         permissions.grant in any tenant
//	DELETE /v1/roles/{role}/permissions/{key}   permissions.grant in any tenant
//	GET    /v1/authz/check?permission=          explain a decision
//	GET    /v1/audit, /v1/audit/verify, /v1/audit/export   audit.view
package api
