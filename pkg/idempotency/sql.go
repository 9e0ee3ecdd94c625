package idempotency

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// MigrationComponent names this package's rows in schema_migrations
const MigrationComponent = "idempotency"

// Migrations returns the bootstrap DDL for idempotency keys
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create idempotency_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS idempotency_keys (
					id {{id}},
					tenant_id BIGINT NOT NULL,
					idem_key VARCHAR(255) NOT NULL,
					request_hash CHAR(64),
					response_code INTEGER,
					created_at {{timestamp}} NOT NULL,
					UNIQUE (tenant_id, idem_key)
				);

				CREATE INDEX IF NOT EXISTS idx_idempotency_keys_created_at ON idempotency_keys(created_at);
			`,
		},
	}
}

// SQLStore keeps records in the idempotency_keys table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert adds rec unless the key is already taken
func (s *SQLStore) Insert(ctx context.Context, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (tenant_id, idem_key, request_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, idem_key) DO NOTHING
	`, rec.TenantID, rec.Key, rec.RequestHash, rec.CreatedAt.UTC())
	if err != nil {
		return false, storage.Unavailable("insert idempotency key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.Unavailable("insert idempotency key", err)
	}
	return n == 1, nil
}

// Get reads the record for (tenantID, key)
func (s *SQLStore) Get(ctx context.Context, tenantID int64, key string) (*Record, error) {
	var (
		rec  = Record{TenantID: tenantID, Key: key}
		hash sql.NullString
		code sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT request_hash, response_code, created_at
		FROM idempotency_keys
		WHERE tenant_id = $1 AND idem_key = $2
	`, tenantID, key).Scan(&hash, &code, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get idempotency key", err)
	}
	if hash.Valid {
		h := hash.String
		rec.RequestHash = &h
	}
	if code.Valid {
		c := int(code.Int64)
		rec.ResponseCode = &c
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// SetResponse stores the response code on the record
func (s *SQLStore) SetResponse(ctx context.Context, tenantID int64, key string, createdAt time.Time, code int) error {
	var err error
	if createdAt.IsZero() {
		_, err = s.db.ExecContext(ctx,
			`UPDATE idempotency_keys SET response_code = $1 WHERE tenant_id = $2 AND idem_key = $3`,
			code, tenantID, key,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE idempotency_keys SET response_code = $1 WHERE tenant_id = $2 AND idem_key = $3 AND created_at = $4`,
			code, tenantID, key, createdAt.UTC(),
		)
	}
	return storage.Unavailable("record idempotent response", err)
}

// Delete removes the record created at createdAt
func (s *SQLStore) Delete(ctx context.Context, tenantID int64, key string, createdAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE tenant_id = $1 AND idem_key = $2 AND created_at = $3`,
		tenantID, key, createdAt.UTC(),
	)
	if err != nil {
		return false, storage.Unavailable("delete idempotency key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.Unavailable("delete idempotency key", err)
	}
	return n > 0, nil
}

// DeleteExpired removes records created at or before before
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at <= $1`, before.UTC())
	if err != nil {
		return 0, storage.Unavailable("purge idempotency keys", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Unavailable("purge idempotency keys", err)
	}
	return n, nil
}
