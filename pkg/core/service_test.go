package core

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/cache"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

const tenant int64 = 10

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := storagetest.NewSQLite(t,
		storage.MigrationSet{Component: identity.MigrationComponent, Migrations: identity.Migrations()},
		storage.MigrationSet{Component: rbac.MigrationComponent, Migrations: rbac.Migrations()},
		storage.MigrationSet{Component: audit.MigrationComponent, Migrations: audit.Migrations()},
		storage.MigrationSet{Component: idempotency.MigrationComponent, Migrations: idempotency.Migrations()},
	)
	require.NoError(t, rbac.ApplySeed(context.Background(), rbac.NewCatalog(db), rbac.DefaultSeed()))

	resolver := rbac.NewResolver(db, identity.NewResolver(identity.NewSQLDirectory(db), nil), cache.NewLRUCache(128, time.Hour))
	chain := audit.NewChain(db, audit.WithDialect(storage.DialectSQLite))
	guard := idempotency.NewGuard(idempotency.NewSQLStore(db))
	return NewService(resolver, chain, guard, nil)
}

func principal(userID int64) *identity.Token {
	return &identity.Token{Subject: strconv.FormatInt(userID, 10)}
}

func TestService_MutationFlow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin := int64(1)

	// bootstrap the tenant admin outside the request flow
	require.NoError(t, s.Resolver().GrantMembership(ctx, &rbac.Membership{UserID: admin, TenantID: tenant, Role: rbac.RoleParishAdmin}))

	dup, prior, err := s.Dedup(ctx, tenant, "req-1", []byte(`{"user_id":2}`))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Nil(t, prior)

	ok, err := s.Authorize(ctx, tenant, rbac.PermUsersManage, principal(admin))
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := s.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		m := &rbac.Membership{UserID: 2, TenantID: tenant, Role: rbac.RoleRegistrar, GrantedBy: &admin}
		if err := s.Resolver().GrantMembershipTx(ctx, tx, m); err != nil {
			return nil, err
		}
		return []audit.Record{{
			TenantID:   &m.TenantID,
			ActorID:    &admin,
			Action:     "membership.grant",
			EntityType: "membership",
			After:      m,
		}}, nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].PrevHash)

	require.NoError(t, s.DedupComplete(ctx, tenant, "req-1", 201))
	dup, prior, err = s.Dedup(ctx, tenant, "req-1", []byte(`{"user_id":2}`))
	require.NoError(t, err)
	assert.True(t, dup)
	require.NotNil(t, prior)
	assert.Equal(t, 201, *prior)

	ok, err = s.Authorize(ctx, tenant, rbac.PermSacramentsCreate, principal(2))
	require.NoError(t, err)
	assert.True(t, ok, "new member sees the grant immediately")

	ok, err = s.AuthorizeAnyTenant(ctx, rbac.PermSacramentsUpdate, principal(2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_FailedMutationLeavesNoAuditEntry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	boom := errors.New("validation failed")

	_, err := s.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		if err := s.Resolver().GrantMembershipTx(ctx, tx, &rbac.Membership{UserID: 3, TenantID: tenant, Role: rbac.RoleViewer}); err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	page, err := s.Chain().Store().Search(ctx, audit.Filter{TenantID: ptr(tenant)})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	m, err := s.Resolver().Memberships().Get(ctx, 3, tenant)
	require.NoError(t, err)
	assert.Nil(t, m, "membership rolled back with the transaction")
}

func TestService_RevocationVisibleImmediately(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.Resolver().GrantMembership(ctx, &rbac.Membership{UserID: 4, TenantID: tenant, Role: rbac.RoleViewer}))

	ok, err := s.Authorize(ctx, tenant, rbac.PermUsersView, principal(4))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		if err := s.Resolver().RevokeRolePermissionTx(ctx, tx, rbac.RoleViewer, rbac.PermUsersView); err != nil {
			return nil, err
		}
		return []audit.Record{{Action: "role_permission.revoke", EntityType: "role_permission", EntityID: ptr("VIEWER:users.view")}}, nil
	})
	require.NoError(t, err)

	ok, err = s.Authorize(ctx, tenant, rbac.PermUsersView, principal(4))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.RecordAudit(ctx, audit.Record{Action: "role_permission.grant", EntityType: "role_permission"})
	require.NoError(t, err)
	require.NotNil(t, e.PrevHash, "tenant-less entries chain in the global lineage")
}

func ptr[T any](v T) *T { return &v }
