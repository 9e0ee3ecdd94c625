package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// SQLDirectory resolves users from the users table
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over db
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// FindByEmail looks a user up by case-insensitive email
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (int64, bool, error) {
	return d.findOne(ctx, `SELECT id FROM users WHERE LOWER(email) = $1`, strings.ToLower(email))
}

// FindByExternalID looks a user up by the identity provider's UUID
func (d *SQLDirectory) FindByExternalID(ctx context.Context, externalID uuid.UUID) (int64, bool, error) {
	return d.findOne(ctx, `SELECT id FROM users WHERE external_id = $1`, externalID.String())
}

func (d *SQLDirectory) findOne(ctx context.Context, query string, arg interface{}) (int64, bool, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up user: %w", err)
	}
	return id, true, nil
}

// MigrationComponent names this package's rows in schema_migrations
const MigrationComponent = "identity"

// Migrations returns the bootstrap DDL for the users table
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{id}},
					email VARCHAR(320) NOT NULL,
					external_id VARCHAR(36),
					created_at {{timestamp}} NOT NULL DEFAULT {{now}}
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));
				CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);
			`,
		},
	}
}
