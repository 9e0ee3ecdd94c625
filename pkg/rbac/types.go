package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is a named privilege level within one tenant
type Role string

// Built-in roles, highest first
const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleParishAdmin Role = "PARISH_ADMIN"
	RoleRegistrar   Role = "REGISTRAR"
	RolePriest      Role = "PRIEST"
	RoleViewer      Role = "VIEWER"
)

var roleLevels = map[Role]int{
	RoleSuperAdmin:  100,
	RoleParishAdmin: 80,
	RoleRegistrar:   60,
	RolePriest:      40,
	RoleViewer:      20,
}

// AllRoles returns the built-in roles from highest to lowest
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleParishAdmin, RoleRegistrar, RolePriest, RoleViewer}
}

// Level returns the role's rank; unknown roles rank 0
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether r is a built-in role
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether r ranks at or above other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Level() >= other.Level()
}

// Outranks reports whether r ranks strictly above other
func (r Role) Outranks(other Role) bool {
	return r.Level() > other.Level()
}

// ParseRole parses a role name case-insensitively
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Permission keys
const (
	PermUsersManage      = "users.manage"
	PermUsersView        = "users.view"
	PermPermissionsGrant = "permissions.grant"
	PermSacramentsCreate = "sacraments.create"
	PermSacramentsUpdate = "sacraments.update"
	PermSacramentsView   = "sacraments.view"
	PermSettingsEdit     = "settings.edit"
	PermAuditView        = "audit.view"
)

// MembershipStatus is the logical state of a membership
type MembershipStatus string

const (
	StatusActive   MembershipStatus = "ACTIVE"
	StatusInactive MembershipStatus = "INACTIVE"
)

// Membership binds a user to a role within one tenant
type Membership struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	TenantID  int64            `json:"tenant_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	GrantedBy *int64           `json:"granted_by,omitempty"`
	GrantedAt time.Time        `json:"granted_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// GrantsAccess reports whether the membership is active and unexpired at now
func (m *Membership) GrantsAccess(now time.Time) bool {
	if m == nil || m.Status != StatusActive {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// PermissionDef is an entry in the permission key registry
type PermissionDef struct {
	Key         string `json:"key" yaml:"key"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"category"`
}

// RolePermission is a global role grant
type RolePermission struct {
	Role          Role   `json:"role"`
	PermissionKey string `json:"permission_key"`
}

// TenantOverride grants or revokes a permission for a role in one tenant,
// taking precedence over the global grant table.
type TenantOverride struct {
	TenantID      int64  `json:"tenant_id"`
	Role          Role   `json:"role"`
	PermissionKey string `json:"permission_key"`
	Granted       bool   `json:"granted"`
}

// Decision reasons
const (
	ReasonIdentityUnresolved = "identity_unresolved"
	ReasonNoMembership       = "no_membership"
	ReasonSuperAdmin         = "super_admin"
	ReasonTenantOverride     = "tenant_override"
	ReasonRolePermission     = "role_permission"
	ReasonNotGranted         = "not_granted"
)

// Decision is the outcome of a permission check with the rule that produced it
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	UserID   int64  `json:"user_id,omitempty"`
	TenantID int64  `json:"tenant_id,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

var (
	// ErrUnknownRole is returned when parsing a role name that is not built in
	ErrUnknownRole = errors.New("unknown role")

	// ErrMembershipExists is returned when granting a second membership for the
	// same user and tenant
	ErrMembershipExists = errors.New("membership already exists")

	// ErrMembershipNotFound is returned by updates of a missing membership
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrUnknownPermission is returned for keys missing from the registry
	ErrUnknownPermission = errors.New("unknown permission")
)
