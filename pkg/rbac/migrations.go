package rbac

import "github.com/platinummonkey/parish-registry/pkg/storage"

// MigrationComponent names this package's rows in schema_migrations
const MigrationComponent = "rbac"

// Migrations returns the bootstrap DDL for memberships and the permission
// catalog. The users table belongs to the identity directory.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					key VARCHAR(128) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT ''
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role VARCHAR(32) NOT NULL,
					permission_key VARCHAR(128) NOT NULL REFERENCES permissions(key),
					PRIMARY KEY (role, permission_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create tenant_role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_role_permissions (
					tenant_id BIGINT NOT NULL,
					role VARCHAR(32) NOT NULL,
					permission_key VARCHAR(128) NOT NULL REFERENCES permissions(key),
					granted BOOLEAN NOT NULL,
					PRIMARY KEY (tenant_id, role, permission_key)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id {{id}},
					user_id BIGINT NOT NULL,
					tenant_id BIGINT NOT NULL,
					role VARCHAR(32) NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
					granted_by BIGINT,
					granted_at {{timestamp}} NOT NULL,
					expires_at {{timestamp}},
					UNIQUE (user_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_tenant ON memberships(tenant_id);
			`,
		},
	}
}
