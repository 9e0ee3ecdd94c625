package rbac

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/cache"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

const (
	tenantA int64 = 1
	tenantB int64 = 2
)

type fixture struct {
	db       *sql.DB
	cache    *cache.LRUCache
	resolver *Resolver
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewSQLite(t,
		storage.MigrationSet{Component: identity.MigrationComponent, Migrations: identity.Migrations()},
		storage.MigrationSet{Component: MigrationComponent, Migrations: Migrations()},
	)
	require.NoError(t, ApplySeed(context.Background(), NewCatalog(db), DefaultSeed()))

	f := &fixture{
		db:    db,
		cache: cache.NewLRUCache(1024, time.Hour),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ids := identity.NewResolver(identity.NewSQLDirectory(db), nil)
	f.resolver = NewResolver(db, ids, f.cache, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) member(t *testing.T, userID, tenantID int64, role Role, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.resolver.GrantMembership(context.Background(), &Membership{
		UserID:    userID,
		TenantID:  tenantID,
		Role:      role,
		ExpiresAt: expiresAt,
	}))
}

func tokenFor(userID int64) *identity.Token {
	return &identity.Token{Subject: strconv.FormatInt(userID, 10), ID: "jti-" + strconv.FormatInt(userID, 10)}
}
