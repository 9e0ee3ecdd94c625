package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// Catalog persists the permission key registry, the global role grants and
// the per-tenant overrides.
type Catalog struct {
	q storage.Querier
}

// NewCatalog creates a catalog over q
func NewCatalog(q storage.Querier) *Catalog {
	return &Catalog{q: q}
}

// WithTx returns a catalog bound to tx
func (c *Catalog) WithTx(tx *sql.Tx) *Catalog {
	return &Catalog{q: tx}
}

// RegisterPermission adds a key to the registry; existing keys are left as-is
func (c *Catalog) RegisterPermission(ctx context.Context, p PermissionDef) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO permissions (key, description, category) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
		p.Key, p.Description, p.Category,
	)
	return storage.Unavailable("register permission", err)
}

// ListPermissions returns the registry ordered by category then key
func (c *Catalog) ListPermissions(ctx context.Context) ([]PermissionDef, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT key, description, category FROM permissions ORDER BY category, key`)
	if err != nil {
		return nil, storage.Unavailable("list permissions", err)
	}
	defer rows.Close()

	var out []PermissionDef
	for rows.Next() {
		var p PermissionDef
		if err := rows.Scan(&p.Key, &p.Description, &p.Category); err != nil {
			return nil, storage.Unavailable("list permissions", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list permissions", err)
	}
	return out, nil
}

func (c *Catalog) requireKnown(ctx context.Context, key string) error {
	var exists int
	err := c.q.QueryRowContext(ctx, `SELECT 1 FROM permissions WHERE key = $1`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %q", ErrUnknownPermission, key)
	}
	return storage.Unavailable("look up permission", err)
}

// GrantRolePermission grants key to role globally. Granting twice is a no-op.
func (c *Catalog) GrantRolePermission(ctx context.Context, role Role, key string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if err := c.requireKnown(ctx, key); err != nil {
		return err
	}
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO role_permissions (role, permission_key) VALUES ($1, $2) ON CONFLICT (role, permission_key) DO NOTHING`,
		string(role), key,
	)
	return storage.Unavailable("grant role permission", err)
}

func (c *Catalog) hasGrants(ctx context.Context) (bool, error) {
	var n int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions`).Scan(&n); err != nil {
		return false, storage.Unavailable("count role permissions", err)
	}
	return n > 0, nil
}

// RevokeRolePermission removes the global grant of key to role
func (c *Catalog) RevokeRolePermission(ctx context.Context, role Role, key string) error {
	_, err := c.q.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role = $1 AND permission_key = $2`,
		string(role), key,
	)
	return storage.Unavailable("revoke role permission", err)
}

// RolePermissions returns the globally granted keys of role, sorted
func (c *Catalog) RolePermissions(ctx context.Context, role Role) ([]string, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT permission_key FROM role_permissions WHERE role = $1 ORDER BY permission_key`,
		string(role),
	)
	if err != nil {
		return nil, storage.Unavailable("list role permissions", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storage.Unavailable("list role permissions", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list role permissions", err)
	}
	return keys, nil
}

// SetTenantOverride creates or replaces the override for (tenant, role, key)
func (c *Catalog) SetTenantOverride(ctx context.Context, o TenantOverride) error {
	if !o.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, o.Role)
	}
	if err := c.requireKnown(ctx, o.PermissionKey); err != nil {
		return err
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO tenant_role_permissions (tenant_id, role, permission_key, granted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, role, permission_key) DO UPDATE SET granted = excluded.granted
	`, o.TenantID, string(o.Role), o.PermissionKey, o.Granted)
	return storage.Unavailable("set tenant override", err)
}

// ClearTenantOverride removes the override so the global grant applies again
func (c *Catalog) ClearTenantOverride(ctx context.Context, tenantID int64, role Role, key string) error {
	_, err := c.q.ExecContext(ctx,
		`DELETE FROM tenant_role_permissions WHERE tenant_id = $1 AND role = $2 AND permission_key = $3`,
		tenantID, string(role), key,
	)
	return storage.Unavailable("clear tenant override", err)
}

// TenantOverride returns the override for (tenant, role, key), or nil
func (c *Catalog) TenantOverride(ctx context.Context, tenantID int64, role Role, key string) (*TenantOverride, error) {
	o := TenantOverride{TenantID: tenantID, Role: role, PermissionKey: key}
	err := c.q.QueryRowContext(ctx,
		`SELECT granted FROM tenant_role_permissions WHERE tenant_id = $1 AND role = $2 AND permission_key = $3`,
		tenantID, string(role), key,
	).Scan(&o.Granted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get tenant override", err)
	}
	return &o, nil
}

// ListTenantOverrides returns every override of tenant
func (c *Catalog) ListTenantOverrides(ctx context.Context, tenantID int64) ([]TenantOverride, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT role, permission_key, granted
		FROM tenant_role_permissions
		WHERE tenant_id = $1
		ORDER BY role, permission_key
	`, tenantID)
	if err != nil {
		return nil, storage.Unavailable("list tenant overrides", err)
	}
	defer rows.Close()

	var out []TenantOverride
	for rows.Next() {
		o := TenantOverride{TenantID: tenantID}
		var role string
		if err := rows.Scan(&role, &o.PermissionKey, &o.Granted); err != nil {
			return nil, storage.Unavailable("list tenant overrides", err)
		}
		o.Role = Role(role)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list tenant overrides", err)
	}
	return out, nil
}
