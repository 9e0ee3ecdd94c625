package audit

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// Chain appends hash-chained entries, one chain per tenant plus one for
// tenant-less entries.
//
// Appends to one lineage are serialized three ways: an in-process lock held
// for the whole of Log's transaction, pg_advisory_xact_lock on PostgreSQL
// (held until the caller's transaction ends, so LogTx is covered across
// processes) and the idx_audit_log_chain unique index, which rejects a second
// successor of the same hash.
type Chain struct {
	db      *sql.DB
	store   *Store
	enabled bool
	dialect storage.Dialect
	locks   keyedMutex
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithHashChain turns hashing on or off. It is on by default.
func WithHashChain(enabled bool) ChainOption {
	return func(c *Chain) { c.enabled = enabled }
}

// WithDialect selects the SQL dialect; PostgreSQL enables advisory locks
func WithDialect(d storage.Dialect) ChainOption {
	return func(c *Chain) { c.dialect = d }
}

// WithClock overrides time.Now for entry timestamps
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) ChainOption {
	return func(c *Chain) { c.logger = observability.OrNop(l) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain creates a chain over db
func NewChain(db *sql.DB, opts ...ChainOption) *Chain {
	c := &Chain{
		db:      db,
		store:   NewStore(db),
		enabled: true,
		dialect: storage.DialectPostgres,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether entries are hashed
func (c *Chain) Enabled() bool {
	return c.enabled
}

// Store returns the underlying store for reads
func (c *Chain) Store() *Store {
	return c.store
}

// Log appends rec in its own transaction
func (c *Chain) Log(ctx context.Context, rec Record) (*Entry, error) {
	lineage := LineageOf(rec.TenantID)
	if c.enabled {
		unlock := c.locks.Lock(lineage)
		defer unlock()
	}

	var entry *Entry
	err := storage.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var err error
		entry, err = c.LogTx(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// LogTx appends rec inside tx, so the entry commits or rolls back with the
// business mutation it describes.
func (c *Chain) LogTx(ctx context.Context, tx *sql.Tx, rec Record) (entry *Entry, err error) {
	lineage := LineageOf(rec.TenantID)
	ctx, span := observability.StartSpan(ctx, "audit.Log",
		attribute.String("audit.lineage", lineage),
		attribute.String("audit.action", rec.Action),
	)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			c.metrics.RecordStoreError("audit")
		}
	}()

	if rec.Action == "" || rec.EntityType == "" {
		return nil, fmt.Errorf("%w: action and entity type are required", ErrInvalidRecord)
	}

	before, err := Canonicalize(rec.Before)
	if err != nil {
		return nil, err
	}
	after, err := Canonicalize(rec.After)
	if err != nil {
		return nil, err
	}

	entry = &Entry{
		TenantID:   rec.TenantID,
		ActorID:    rec.ActorID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Timestamp:  c.now().UTC(),
	}
	if before != "" {
		entry.Before = []byte(before)
	}
	if after != "" {
		entry.After = []byte(after)
	}

	if c.enabled {
		if err := c.lockLineage(ctx, tx, lineage); err != nil {
			return nil, err
		}
		prev, err := c.store.lastHash(ctx, tx, lineage)
		if err != nil {
			return nil, err
		}
		entry.PrevHash = prev
		h := HashEntry(entry)
		entry.Hash = &h
	}

	if err := c.store.insert(ctx, tx, entry); err != nil {
		return nil, err
	}

	c.metrics.RecordAuditAppend(rec.TenantID == nil, c.enabled)
	c.logger.WithTenant(rec.TenantID).WithFields(map[string]interface{}{
		"audit_id":    entry.ID,
		"action":      entry.Action,
		"entity_type": entry.EntityType,
	}).Debug("audit entry appended")
	return entry, nil
}

func (c *Chain) lockLineage(ctx context.Context, tx *sql.Tx, lineage string) error {
	if c.dialect != storage.DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lineageLockKey(lineage)); err != nil {
		return storage.Unavailable("lock audit lineage", err)
	}
	return nil
}

// lineageLockKey maps a lineage onto the advisory lock key space
func lineageLockKey(lineage string) int64 {
	h := fnv.New64a()
	h.Write([]byte("audit:" + lineage))
	return int64(h.Sum64())
}

// keyedMutex is a set of mutexes created on demand per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
