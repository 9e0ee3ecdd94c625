package rbac

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/parish-registry/pkg/cache"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// Cache namespaces
const (
	NamespaceRolePermissions = "role_permissions"
	NamespaceOverrides       = "override"
	NamespaceMemberships     = "membership"
)

// IdentityResolver maps a token to an internal user id
type IdentityResolver interface {
	Resolve(ctx context.Context, tok *identity.Token) (int64, error)
}

type membershipEntry struct {
	Found      bool        `json:"found"`
	Membership *Membership `json:"membership,omitempty"`
}

type overrideEntry struct {
	Found   bool `json:"found"`
	Granted bool `json:"granted"`
}

// Resolver answers "can this principal do this in this tenant". It composes
// identity resolution, the membership store and the permission catalog behind
// three independently evicted cache projections.
//
// Fills are guarded by a per-namespace epoch: every write bumps the epoch
// before evicting, and a reader whose load started under an older epoch
// drops the value it just cached. A committed write is therefore never
// shadowed by a fill that read the previous state.
type Resolver struct {
	db          *sql.DB
	identities  IdentityResolver
	memberships *MembershipStore
	catalog     *Catalog

	rolePerms *cache.Typed[[]string]
	overrides *cache.Typed[overrideEntry]
	members   *cache.Typed[membershipEntry]
	epochs    map[string]*atomic.Uint64
	group     singleflight.Group

	storeTimeout time.Duration
	anyTenantMax int
	now          func() time.Time
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithStoreTimeout bounds each store read made on a cache miss
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.storeTimeout = d }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(r *Resolver) { r.logger = observability.OrNop(l) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides time.Now, for expiry checks in tests
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
		r.memberships.now = now
	}
}

// WithAnyTenantConcurrency bounds the tenants evaluated in parallel by
// HasPermissionInAnyTenant
func WithAnyTenantConcurrency(n int) Option {
	return func(r *Resolver) { r.anyTenantMax = n }
}

// NewResolver creates a resolver over db. A nil cache disables caching.
func NewResolver(db *sql.DB, identities IdentityResolver, c cache.Cache, opts ...Option) *Resolver {
	if c == nil {
		c = cache.Noop{}
	}
	r := &Resolver{
		db:          db,
		identities:  identities,
		memberships: NewMembershipStore(db),
		catalog:     NewCatalog(db),
		rolePerms:   cache.NewTyped[[]string](c, NamespaceRolePermissions),
		overrides:   cache.NewTyped[overrideEntry](c, NamespaceOverrides),
		members:     cache.NewTyped[membershipEntry](c, NamespaceMemberships),
		epochs: map[string]*atomic.Uint64{
			NamespaceRolePermissions: new(atomic.Uint64),
			NamespaceOverrides:       new(atomic.Uint64),
			NamespaceMemberships:     new(atomic.Uint64),
		},
		storeTimeout: 2 * time.Second,
		anyTenantMax: 4,
		now:          time.Now,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Memberships returns the underlying membership store for reads
func (r *Resolver) Memberships() *MembershipStore {
	return r.memberships
}

// Catalog returns the underlying catalog for reads
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Can reports whether tok may use key in tenantID. Denials, including an
// unresolvable identity, are (false, nil); only store failures return an error.
func (r *Resolver) Can(ctx context.Context, tenantID int64, key string, tok *identity.Token) (bool, error) {
	d, err := r.Decide(ctx, tenantID, key, tok)
	return d.Allowed, err
}

// Decide is Can with the rule that produced the answer
func (r *Resolver) Decide(ctx context.Context, tenantID int64, key string, tok *identity.Token) (d Decision, err error) {
	start := r.now()
	ctx, span := observability.StartSpan(ctx, "rbac.Decide",
		attribute.Int64("tenant.id", tenantID),
		attribute.String("permission", key),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", d.Reason))
		observability.EndSpan(span, err)
		if err == nil {
			r.metrics.RecordDecision("can", d.Allowed, d.Reason, r.now().Sub(start))
		} else {
			r.metrics.RecordStoreError("rbac")
		}
	}()

	userID, err := r.identities.Resolve(ctx, tok)
	if errors.Is(err, identity.ErrIdentityUnresolved) {
		return Decision{Reason: ReasonIdentityUnresolved, TenantID: tenantID}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	m, err := r.membership(ctx, userID, tenantID, tok.CacheID())
	if err != nil {
		return Decision{}, err
	}
	return r.decideFor(ctx, userID, tenantID, key, m)
}

func (r *Resolver) decideFor(ctx context.Context, userID, tenantID int64, key string, m *Membership) (Decision, error) {
	d := Decision{UserID: userID, TenantID: tenantID}
	if !m.GrantsAccess(r.now()) {
		d.Reason = ReasonNoMembership
		return d, nil
	}
	d.Role = m.Role

	if m.Role == RoleSuperAdmin {
		d.Allowed, d.Reason = true, ReasonSuperAdmin
		return d, nil
	}

	o, err := r.override(ctx, tenantID, m.Role, key)
	if err != nil {
		return Decision{}, err
	}
	if o.Found {
		d.Allowed, d.Reason = o.Granted, ReasonTenantOverride
		return d, nil
	}

	perms, err := r.rolePermissions(ctx, m.Role)
	if err != nil {
		return Decision{}, err
	}
	if slices.Contains(perms, key) {
		d.Allowed, d.Reason = true, ReasonRolePermission
		return d, nil
	}
	d.Reason = ReasonNotGranted
	return d, nil
}

// HasPermissionInAnyTenant reports whether any active membership of tok grants
// key. A denial in one tenant, including an explicit override, does not stop
// the others from being evaluated.
func (r *Resolver) HasPermissionInAnyTenant(ctx context.Context, key string, tok *identity.Token) (allowed bool, err error) {
	start := r.now()
	ctx, span := observability.StartSpan(ctx, "rbac.HasPermissionInAnyTenant", attribute.String("permission", key))
	reason := ReasonNotGranted
	defer func() {
		observability.EndSpan(span, err)
		if err == nil {
			r.metrics.RecordDecision("any_tenant", allowed, reason, r.now().Sub(start))
		} else {
			r.metrics.RecordStoreError("rbac")
		}
	}()

	userID, err := r.identities.Resolve(ctx, tok)
	if errors.Is(err, identity.ErrIdentityUnresolved) {
		reason = ReasonIdentityUnresolved
		return false, nil
	}
	if err != nil {
		return false, err
	}

	loadCtx, cancel := r.storeContext(ctx)
	memberships, err := r.memberships.ListActiveForUser(loadCtx, userID, r.now())
	cancel()
	if err != nil {
		return false, err
	}
	if len(memberships) == 0 {
		reason = ReasonNoMembership
		return false, nil
	}

	var (
		granted atomic.Bool
		mu      sync.Mutex
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.anyTenantMax)
	for i := range memberships {
		m := &memberships[i]
		g.Go(func() error {
			if granted.Load() {
				return nil
			}
			d, err := r.decideFor(gctx, userID, m.TenantID, key, m)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if d.Allowed && granted.CompareAndSwap(false, true) {
				mu.Lock()
				reason = d.Reason
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if granted.Load() {
		return true, nil
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return false, nil
}

func (r *Resolver) membership(ctx context.Context, userID, tenantID int64, tokenID string) (*Membership, error) {
	e, err := loadThrough(ctx, r, r.members, cache.Key(userID, tenantID, tokenID), func(ctx context.Context) (membershipEntry, error) {
		m, err := r.memberships.Get(ctx, userID, tenantID)
		if err != nil {
			return membershipEntry{}, err
		}
		return membershipEntry{Found: m != nil, Membership: m}, nil
	})
	if err != nil || !e.Found {
		return nil, err
	}
	return e.Membership, nil
}

func (r *Resolver) override(ctx context.Context, tenantID int64, role Role, key string) (overrideEntry, error) {
	return loadThrough(ctx, r, r.overrides, cache.Key(tenantID, role, key), func(ctx context.Context) (overrideEntry, error) {
		o, err := r.catalog.TenantOverride(ctx, tenantID, role, key)
		if err != nil || o == nil {
			return overrideEntry{}, err
		}
		return overrideEntry{Found: true, Granted: o.Granted}, nil
	})
}

func (r *Resolver) rolePermissions(ctx context.Context, role Role) ([]string, error) {
	return loadThrough(ctx, r, r.rolePerms, string(role), func(ctx context.Context) ([]string, error) {
		return r.catalog.RolePermissions(ctx, role)
	})
}

func (r *Resolver) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

// loadThrough reads key from c, falling back to load on a miss. Concurrent
// misses for the same key and epoch share one load. Cache read failures
// degrade to the store; store failures are returned.
func loadThrough[V any](ctx context.Context, r *Resolver, c *cache.Typed[V], key string, load func(context.Context) (V, error)) (V, error) {
	ns := c.Namespace()
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		r.logger.WithError(err).WithField("cache", ns).Warn("cache read failed, reading store")
	} else if ok {
		r.metrics.RecordCacheHit(ns)
		return v, nil
	}
	r.metrics.RecordCacheMiss(ns)

	epoch := r.epochs[ns]
	seen := epoch.Load()
	out, err, _ := r.group.Do(ns+"|"+strconv.FormatUint(seen, 10)+"|"+key, func() (interface{}, error) {
		loadCtx, cancel := r.storeContext(ctx)
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if epoch.Load() != seen {
			return v, nil
		}
		if err := c.Set(ctx, key, v); err != nil {
			r.logger.WithError(err).WithField("cache", ns).Warn("cache fill failed")
			return v, nil
		}
		if epoch.Load() != seen {
			_ = c.Evict(ctx, key)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out.(V), nil
}

// Tx is a transactional write scope over the membership store and catalog.
// Cache entries touched through it are evicted when the scope ends.
type Tx struct {
	sql         *sql.Tx
	memberships *MembershipStore
	catalog     *Catalog
	evictions   []eviction
}

type eviction struct {
	namespace string
	run       func(ctx context.Context) error
}

// SQL returns the underlying transaction, for writes that must commit together
// with the permission change (audit entries)
func (t *Tx) SQL() *sql.Tx {
	return t.sql
}

// Memberships returns the membership store bound to the transaction
func (t *Tx) Memberships() *MembershipStore {
	return t.memberships
}

// Catalog returns the catalog bound to the transaction
func (t *Tx) Catalog() *Catalog {
	return t.catalog
}

// Write runs fn in one transaction. After the transaction ends, every cache
// entry staged by fn is evicted before Write returns, whether or not the
// commit succeeded. An eviction failure is returned as an error.
func (r *Resolver) Write(ctx context.Context, fn func(*Tx) error) error {
	var staged *Tx
	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		staged = &Tx{
			sql:         tx,
			memberships: r.memberships.WithTx(tx),
			catalog:     r.catalog.WithTx(tx),
		}
		return fn(staged)
	})
	if staged == nil {
		return err
	}
	return errors.Join(err, r.evict(ctx, staged.evictions))
}

func (r *Resolver) evict(ctx context.Context, evictions []eviction) error {
	var errs []error
	for _, e := range evictions {
		r.epochs[e.namespace].Add(1)
		if err := e.run(ctx); err != nil {
			r.logger.WithError(err).WithField("cache", e.namespace).Error("cache eviction failed")
			errs = append(errs, storage.Unavailable("evict "+e.namespace, err))
			continue
		}
		r.metrics.RecordCacheEviction(e.namespace)
	}
	return errors.Join(errs...)
}

func (t *Tx) stage(namespace string, run func(ctx context.Context) error) {
	t.evictions = append(t.evictions, eviction{namespace: namespace, run: run})
}

func (t *Tx) membershipChanged(r *Resolver, userID, tenantID int64) {
	prefix := cache.Key(userID, tenantID) + ":"
	t.stage(NamespaceMemberships, func(ctx context.Context) error {
		return r.members.EvictPrefix(ctx, prefix)
	})
}

// GrantMembershipTx inserts a membership and stages its eviction
func (r *Resolver) GrantMembershipTx(ctx context.Context, t *Tx, m *Membership) error {
	t.membershipChanged(r, m.UserID, m.TenantID)
	return t.memberships.Grant(ctx, m)
}

// UpdateMembershipRoleTx changes a membership's role and stages its eviction
func (r *Resolver) UpdateMembershipRoleTx(ctx context.Context, t *Tx, userID, tenantID int64, role Role, grantedBy *int64) error {
	t.membershipChanged(r, userID, tenantID)
	return t.memberships.UpdateRole(ctx, userID, tenantID, role, grantedBy)
}

// SetMembershipExpiryTx changes a membership's expiry and stages its eviction
func (r *Resolver) SetMembershipExpiryTx(ctx context.Context, t *Tx, userID, tenantID int64, expiresAt *time.Time) error {
	t.membershipChanged(r, userID, tenantID)
	return t.memberships.SetExpiry(ctx, userID, tenantID, expiresAt)
}

// DeactivateMembershipTx marks a membership INACTIVE and stages its eviction
func (r *Resolver) DeactivateMembershipTx(ctx context.Context, t *Tx, userID, tenantID int64) error {
	t.membershipChanged(r, userID, tenantID)
	return t.memberships.SetStatus(ctx, userID, tenantID, StatusInactive)
}

// GrantRolePermissionTx grants key to role globally and stages the eviction
func (r *Resolver) GrantRolePermissionTx(ctx context.Context, t *Tx, role Role, key string) error {
	t.stage(NamespaceRolePermissions, func(ctx context.Context) error { return r.rolePerms.Evict(ctx, string(role)) })
	return t.catalog.GrantRolePermission(ctx, role, key)
}

// RevokeRolePermissionTx revokes a global grant and stages the eviction
func (r *Resolver) RevokeRolePermissionTx(ctx context.Context, t *Tx, role Role, key string) error {
	t.stage(NamespaceRolePermissions, func(ctx context.Context) error { return r.rolePerms.Evict(ctx, string(role)) })
	return t.catalog.RevokeRolePermission(ctx, role, key)
}

// SetTenantOverrideTx upserts an override and stages the eviction
func (r *Resolver) SetTenantOverrideTx(ctx context.Context, t *Tx, o TenantOverride) error {
	k := cache.Key(o.TenantID, o.Role, o.PermissionKey)
	t.stage(NamespaceOverrides, func(ctx context.Context) error { return r.overrides.Evict(ctx, k) })
	return t.catalog.SetTenantOverride(ctx, o)
}

// ClearTenantOverrideTx removes an override and stages the eviction
func (r *Resolver) ClearTenantOverrideTx(ctx context.Context, t *Tx, tenantID int64, role Role, key string) error {
	k := cache.Key(tenantID, role, key)
	t.stage(NamespaceOverrides, func(ctx context.Context) error { return r.overrides.Evict(ctx, k) })
	return t.catalog.ClearTenantOverride(ctx, tenantID, role, key)
}

// GrantMembership is GrantMembershipTx in its own transaction
func (r *Resolver) GrantMembership(ctx context.Context, m *Membership) error {
	return r.Write(ctx, func(t *Tx) error { return r.GrantMembershipTx(ctx, t, m) })
}

// UpdateMembershipRole is UpdateMembershipRoleTx in its own transaction
func (r *Resolver) UpdateMembershipRole(ctx context.Context, userID, tenantID int64, role Role, grantedBy *int64) error {
	return r.Write(ctx, func(t *Tx) error { return r.UpdateMembershipRoleTx(ctx, t, userID, tenantID, role, grantedBy) })
}

// DeactivateMembership is DeactivateMembershipTx in its own transaction
func (r *Resolver) DeactivateMembership(ctx context.Context, userID, tenantID int64) error {
	return r.Write(ctx, func(t *Tx) error { return r.DeactivateMembershipTx(ctx, t, userID, tenantID) })
}

// GrantRolePermission is GrantRolePermissionTx in its own transaction
func (r *Resolver) GrantRolePermission(ctx context.Context, role Role, key string) error {
	return r.Write(ctx, func(t *Tx) error { return r.GrantRolePermissionTx(ctx, t, role, key) })
}

// RevokeRolePermission is RevokeRolePermissionTx in its own transaction
func (r *Resolver) RevokeRolePermission(ctx context.Context, role Role, key string) error {
	return r.Write(ctx, func(t *Tx) error { return r.RevokeRolePermissionTx(ctx, t, role, key) })
}

// SetTenantOverride is SetTenantOverrideTx in its own transaction
func (r *Resolver) SetTenantOverride(ctx context.Context, o TenantOverride) error {
	return r.Write(ctx, func(t *Tx) error { return r.SetTenantOverrideTx(ctx, t, o) })
}

// ClearTenantOverride is ClearTenantOverrideTx in its own transaction
func (r *Resolver) ClearTenantOverride(ctx context.Context, tenantID int64, role Role, key string) error {
	return r.Write(ctx, func(t *Tx) error { return r.ClearTenantOverrideTx(ctx, t, tenantID, role, key) })
}
