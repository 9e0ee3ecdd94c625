package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the initial permission registry and global role grants
type Seed struct {
	Permissions []PermissionDef   `yaml:"permissions"`
	Grants      map[Role][]string `yaml:"grants"`
}

// DefaultSeed returns the built-in permission keys and grants
func DefaultSeed() *Seed {
	all := []string{
		PermUsersManage, PermUsersView, PermPermissionsGrant,
		PermSacramentsCreate, PermSacramentsUpdate, PermSacramentsView,
		PermSettingsEdit, PermAuditView,
	}
	return &Seed{
		Permissions: []PermissionDef{
			{Key: PermUsersManage, Description: "Create and change memberships", Category: "users"},
			{Key: PermUsersView, Description: "List members of the parish", Category: "users"},
			{Key: PermPermissionsGrant, Description: "Change role grants and overrides", Category: "permissions"},
			{Key: PermSacramentsCreate, Description: "Record new sacraments", Category: "sacraments"},
			{Key: PermSacramentsUpdate, Description: "Correct recorded sacraments", Category: "sacraments"},
			{Key: PermSacramentsView, Description: "Read sacrament records", Category: "sacraments"},
			{Key: PermSettingsEdit, Description: "Edit parish settings", Category: "settings"},
			{Key: PermAuditView, Description: "Read and verify the audit log", Category: "audit"},
		},
		Grants: map[Role][]string{
			RoleSuperAdmin:  all,
			RoleParishAdmin: all,
			RoleRegistrar:   {PermSacramentsCreate, PermSacramentsUpdate, PermSacramentsView},
			RolePriest:      {PermSacramentsCreate, PermSacramentsView},
			RoleViewer:      {PermSacramentsView, PermUsersView},
		},
	}
}

// LoadSeed reads a seed from a YAML file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every grant names a built-in role and a declared key
func (s *Seed) Validate() error {
	known := make(map[string]bool, len(s.Permissions))
	for _, p := range s.Permissions {
		if p.Key == "" {
			return fmt.Errorf("seed: permission with empty key")
		}
		known[p.Key] = true
	}
	for role, keys := range s.Grants {
		if !role.Valid() {
			return fmt.Errorf("seed: %w: %q", ErrUnknownRole, role)
		}
		for _, k := range keys {
			if !known[k] {
				return fmt.Errorf("seed: role %s: %w: %q", role, ErrUnknownPermission, k)
			}
		}
	}
	return nil
}

// ApplySeed writes the seed through the catalog. Permission keys are always
// registered; global grants are written only while role_permissions is empty,
// so a grant revoked at runtime is not restored by the next start.
func ApplySeed(ctx context.Context, c *Catalog, s *Seed) error {
	for _, p := range s.Permissions {
		if err := c.RegisterPermission(ctx, p); err != nil {
			return err
		}
	}

	seeded, err := c.hasGrants(ctx)
	if err != nil || seeded {
		return err
	}
	for _, role := range AllRoles() {
		for _, k := range s.Grants[role] {
			if err := c.GrantRolePermission(ctx, role, k); err != nil {
				return err
			}
		}
	}
	return nil
}
