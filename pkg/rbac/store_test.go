package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipStore_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := f.resolver.Memberships()

	admin := int64(99)
	m := &Membership{UserID: 10, TenantID: tenantA, Role: RoleRegistrar, GrantedBy: &admin}
	require.NoError(t, f.resolver.GrantMembership(ctx, m))
	assert.NotZero(t, m.ID)
	assert.Equal(t, StatusActive, m.Status)
	assert.True(t, m.GrantedAt.Equal(f.now))

	err := f.resolver.GrantMembership(ctx, &Membership{UserID: 10, TenantID: tenantA, Role: RoleViewer})
	assert.ErrorIs(t, err, ErrMembershipExists)

	require.NoError(t, f.resolver.UpdateMembershipRole(ctx, 10, tenantA, RolePriest, &admin))
	got, err := store.Get(ctx, 10, tenantA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, RolePriest, got.Role)
	require.NotNil(t, got.GrantedBy)
	assert.Equal(t, admin, *got.GrantedBy)

	require.NoError(t, f.resolver.DeactivateMembership(ctx, 10, tenantA))
	got, err = store.Get(ctx, 10, tenantA)
	require.NoError(t, err)
	require.NotNil(t, got, "deactivation keeps the row")
	assert.Equal(t, StatusInactive, got.Status)

	assert.ErrorIs(t, f.resolver.DeactivateMembership(ctx, 11, tenantA), ErrMembershipNotFound)
	assert.ErrorIs(t, f.resolver.UpdateMembershipRole(ctx, 10, tenantA, Role("BISHOP"), nil), ErrUnknownRole)

	missing, err := store.Get(ctx, 12, tenantB)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMembershipStore_ListActiveForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := f.now.Add(-time.Hour)
	future := f.now.Add(time.Hour)
	f.member(t, 20, 1, RoleViewer, nil)
	f.member(t, 20, 2, RoleViewer, &past)
	f.member(t, 20, 3, RolePriest, &future)
	f.member(t, 20, 4, RoleViewer, nil)
	require.NoError(t, f.resolver.DeactivateMembership(ctx, 20, 4))

	active, err := f.resolver.Memberships().ListActiveForUser(ctx, 20, f.now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].TenantID)
	assert.Equal(t, int64(3), active[1].TenantID)
	require.NotNil(t, active[1].ExpiresAt)
	assert.True(t, active[1].ExpiresAt.Equal(future))

	all, err := f.resolver.Memberships().ListForTenant(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCatalog_RolePermissionsAndOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.resolver.Catalog()

	perms, err := c.RolePermissions(ctx, RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, []string{PermSacramentsView, PermUsersView}, perms)

	assert.ErrorIs(t, c.GrantRolePermission(ctx, RoleViewer, "sacraments.delete"), ErrUnknownPermission)
	require.NoError(t, c.GrantRolePermission(ctx, RoleViewer, PermSacramentsView), "granting twice is a no-op")

	o, err := c.TenantOverride(ctx, tenantA, RoleViewer, PermSacramentsView)
	require.NoError(t, err)
	assert.Nil(t, o)

	require.NoError(t, c.SetTenantOverride(ctx, TenantOverride{TenantID: tenantA, Role: RoleViewer, PermissionKey: PermSacramentsView, Granted: false}))
	require.NoError(t, c.SetTenantOverride(ctx, TenantOverride{TenantID: tenantA, Role: RoleViewer, PermissionKey: PermAuditView, Granted: true}))
	o, err = c.TenantOverride(ctx, tenantA, RoleViewer, PermSacramentsView)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.False(t, o.Granted)

	require.NoError(t, c.SetTenantOverride(ctx, TenantOverride{TenantID: tenantA, Role: RoleViewer, PermissionKey: PermSacramentsView, Granted: true}))
	o, err = c.TenantOverride(ctx, tenantA, RoleViewer, PermSacramentsView)
	require.NoError(t, err)
	assert.True(t, o.Granted, "upsert replaces the flag")

	list, err := c.ListTenantOverrides(ctx, tenantA)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, c.ClearTenantOverride(ctx, tenantA, RoleViewer, PermSacramentsView))
	o, err = c.TenantOverride(ctx, tenantA, RoleViewer, PermSacramentsView)
	require.NoError(t, err)
	assert.Nil(t, o)

	defs, err := c.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 8)
}
