package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

const membershipColumns = `id, user_id, tenant_id, role, status, granted_by, granted_at, expires_at`

// MembershipStore handles membership persistence. Rows are never deleted;
// deactivation sets status INACTIVE.
type MembershipStore struct {
	q   storage.Querier
	now func() time.Time
}

// NewMembershipStore creates a store over q
func NewMembershipStore(q storage.Querier) *MembershipStore {
	return &MembershipStore{q: q, now: time.Now}
}

// WithTx returns a store bound to tx
func (s *MembershipStore) WithTx(tx *sql.Tx) *MembershipStore {
	return &MembershipStore{q: tx, now: s.now}
}

// Grant inserts a new membership. A second membership for the same user and
// tenant fails with ErrMembershipExists.
func (s *MembershipStore) Grant(ctx context.Context, m *Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, m.Role)
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.GrantedAt.IsZero() {
		m.GrantedAt = s.now().UTC()
	}

	query := `
		INSERT INTO memberships (user_id, tenant_id, role, status, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, tenant_id) DO NOTHING
	`
	res, err := s.q.ExecContext(ctx, query,
		m.UserID,
		m.TenantID,
		string(m.Role),
		string(m.Status),
		m.GrantedBy,
		m.GrantedAt.UTC(),
		utcPtr(m.ExpiresAt),
	)
	if err != nil {
		return storage.Unavailable("grant membership", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable("grant membership", err)
	}
	if n == 0 {
		return ErrMembershipExists
	}

	stored, err := s.Get(ctx, m.UserID, m.TenantID)
	if err != nil {
		return err
	}
	*m = *stored
	return nil
}

// UpdateRole changes the role of an existing membership
func (s *MembershipStore) UpdateRole(ctx context.Context, userID, tenantID int64, role Role, grantedBy *int64) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return s.update(ctx, "update membership role",
		`UPDATE memberships SET role = $1, granted_by = $2, granted_at = $3 WHERE user_id = $4 AND tenant_id = $5`,
		string(role), grantedBy, s.now().UTC(), userID, tenantID,
	)
}

// SetStatus activates or deactivates a membership
func (s *MembershipStore) SetStatus(ctx context.Context, userID, tenantID int64, status MembershipStatus) error {
	return s.update(ctx, "set membership status",
		`UPDATE memberships SET status = $1 WHERE user_id = $2 AND tenant_id = $3`,
		string(status), userID, tenantID,
	)
}

// SetExpiry sets or clears (nil) the expiry of a membership
func (s *MembershipStore) SetExpiry(ctx context.Context, userID, tenantID int64, expiresAt *time.Time) error {
	return s.update(ctx, "set membership expiry",
		`UPDATE memberships SET expires_at = $1 WHERE user_id = $2 AND tenant_id = $3`,
		utcPtr(expiresAt), userID, tenantID,
	)
}

func (s *MembershipStore) update(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable(op, err)
	}
	if n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// Get returns the membership of user in tenant regardless of status, or
// (nil, nil) when there is none.
func (s *MembershipStore) Get(ctx context.Context, userID, tenantID int64) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 AND tenant_id = $2`

	m, err := scanMembership(s.q.QueryRowContext(ctx, query, userID, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get membership", err)
	}
	return m, nil
}

// ListActiveForUser returns the memberships of user that grant access at now
func (s *MembershipStore) ListActiveForUser(ctx context.Context, userID int64, now time.Time) ([]Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE user_id = $1 AND status = $2 AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY tenant_id
	`
	return s.list(ctx, "list memberships for user", query, userID, string(StatusActive), now.UTC())
}

// ListForTenant returns every membership of tenant, any status
func (s *MembershipStore) ListForTenant(ctx context.Context, tenantID int64) ([]Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE tenant_id = $1 ORDER BY user_id`
	return s.list(ctx, "list memberships for tenant", query, tenantID)
}

func (s *MembershipStore) list(ctx context.Context, op, query string, args ...interface{}) ([]Membership, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, storage.Unavailable(op, err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*Membership, error) {
	var (
		m         Membership
		role      string
		status    string
		grantedBy sql.NullInt64
		expiresAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.TenantID, &role, &status, &grantedBy, &m.GrantedAt, &expiresAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Status = MembershipStatus(status)
	if grantedBy.Valid {
		id := grantedBy.Int64
		m.GrantedBy = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
