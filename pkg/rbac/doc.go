// Package rbac decides whether a principal may perform an action in a tenant.
//
// # Model
//
// A Membership binds a user to one Role in one tenant. It grants access only
// while ACTIVE and unexpired. Roles carry a global permission set
// (role_permissions); a tenant may override any (role, key) pair with an
// explicit grant or revoke (tenant_role_permissions).
//
// # Decision order
//
//  1. Resolve the token to a user id. Unresolvable identities are denied.
//  2. No active, unexpired membership in the tenant: deny.
//  3. SUPER_ADMIN: allow, without consulting the catalog.
//  4. A tenant override, if present, is final.
//  5. Otherwise the role's global permission set decides.
//
// Denials are ordinary (false, nil) results. Any store failure is returned as
// an error wrapping storage.ErrUnavailable and must not be read as a denial.
//
// # Caching
//
// The Resolver caches three projections: role permission sets, overrides and
// memberships (keyed by user, tenant and token id). Writes go through
// Resolver.Write or the *Tx helpers, which evict the touched entries
// synchronously once the transaction ends:
//
//	err := resolver.Write(ctx, func(tx *rbac.Tx) error {
//		if err := resolver.RevokeRolePermissionTx(ctx, tx, rbac.RoleViewer, "users.view"); err != nil {
//			return err
//		}
//		_, err := chain.LogTx(ctx, tx.SQL(), record)
//		return err
//	})
//
// # Middleware
//
//	perms := rbac.NewPermissionMiddleware(resolver)
//	router.Handle("/v1/audit", perms.RequirePermission("audit.view")(handler))
package rbac
