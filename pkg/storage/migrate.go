package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/parish-registry/pkg/observability"
)

// Migration is one bootstrap DDL step of a component. SQL may use the
// placeholders {{id}}, {{timestamp}} and {{now}}, rendered per dialect.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Render returns the migration SQL for dialect d
func (m Migration) Render(d Dialect) string {
	var r *strings.Replacer
	switch d {
	case DialectSQLite:
		r = strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{timestamp}}", "TIMESTAMP",
			"{{now}}", "CURRENT_TIMESTAMP",
		)
	default:
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{timestamp}}", "TIMESTAMPTZ",
			"{{now}}", "NOW()",
		)
	}
	return r.Replace(m.SQL)
}

// RunMigrations applies the pending migrations of component in version order.
// Each migration runs in its own transaction together with its bookkeeping row.
func RunMigrations(ctx context.Context, db *sql.DB, d Dialect, component string, migrations []Migration, logger *observability.Logger) error {
	logger = observability.OrNop(logger).WithField("component", component)

	tracking := Migration{SQL: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component VARCHAR(64) NOT NULL,
			version INT NOT NULL,
			description TEXT NOT NULL,
			applied_at {{timestamp}} NOT NULL DEFAULT {{now}},
			PRIMARY KEY (component, version)
		)
	`}
	if _, err := db.ExecContext(ctx, tracking.Render(d)); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Render(d)); err != nil {
				return fmt.Errorf("failed to execute migration %s/%d: %w", component, m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)",
				component, m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %s/%d: %w", component, m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.WithField("version", m.Version).Infof("applied migration: %s", m.Description)
	}

	return nil
}

// MigrationSet is the ordered migrations of one component
type MigrationSet struct {
	Component  string
	Migrations []Migration
}

// ApplyAll runs RunMigrations for each set in order
func ApplyAll(ctx context.Context, db *sql.DB, d Dialect, logger *observability.Logger, sets ...MigrationSet) error {
	for _, s := range sets {
		if err := RunMigrations(ctx, db, d, s.Component, s.Migrations, logger); err != nil {
			return err
		}
	}
	return nil
}
