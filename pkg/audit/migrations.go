package audit

import "github.com/platinummonkey/parish-registry/pkg/storage"

// MigrationComponent names this package's rows in schema_migrations
const MigrationComponent = "audit"

// Migrations returns the bootstrap DDL for the audit log.
//
// The partial unique index allows at most one chained successor per hash in a
// lineage, so two appends that read the same predecessor cannot both commit.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id {{id}},
					tenant_id BIGINT,
					lineage VARCHAR(64) NOT NULL,
					actor_id BIGINT,
					action VARCHAR(128) NOT NULL,
					entity_type VARCHAR(128) NOT NULL,
					entity_id VARCHAR(255),
					before_state TEXT,
					after_state TEXT,
					ts {{timestamp}} NOT NULL,
					hash CHAR(64),
					prev_hash CHAR(64)
				);

				CREATE INDEX IF NOT EXISTS idx_audit_log_lineage ON audit_log(lineage, id);
				CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, id);
				CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_log_chain
					ON audit_log(lineage, COALESCE(prev_hash, ''))
					WHERE hash IS NOT NULL;
			`,
		},
	}
}
