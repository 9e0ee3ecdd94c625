package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/parish-registry/pkg/observability"
)

const (
	// DefaultTTL is how long a key stays a duplicate
	DefaultTTL = 24 * time.Hour

	defaultAttempts = 3
	defaultBackoff  = 10 * time.Millisecond
)

// Guard implements CheckAndStore and RecordResponse over a Store
type Guard struct {
	store    Store
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures a Guard
type Option func(*Guard)

// WithTTL sets how long records count as duplicates
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithRetry bounds the attempts to take over an expired key. The wait before
// attempt n is n*backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(g *Guard) {
		if attempts > 0 {
			g.attempts = attempts
		}
		g.backoff = backoff
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(g *Guard) { g.logger = observability.OrNop(l) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard over store
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:    store,
		ttl:      DefaultTTL,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TTL returns the configured time to live
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// CheckAndStore records the first sight of (tenantID, key) or reports a
// duplicate. body may be nil; when set its SHA-256 is stored with the record.
//
// A record older than the TTL is deleted and the insert retried. If another
// caller takes the key over first, this call is a duplicate of that one.
func (g *Guard) CheckAndStore(ctx context.Context, tenantID int64, key string, body []byte) (res Result, err error) {
	if err := validateKey(key); err != nil {
		return Result{}, err
	}

	ctx, span := observability.StartSpan(ctx, "idempotency.CheckAndStore",
		attribute.Int64("tenant.id", tenantID),
	)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			g.metrics.RecordStoreError("idempotency")
		}
	}()

	rec := Record{
		TenantID:    tenantID,
		Key:         key,
		RequestHash: hashBody(body),
		CreatedAt:   g.now().UTC().Truncate(time.Microsecond),
	}

	reused := false
	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*g.backoff); err != nil {
				return Result{}, err
			}
		}

		inserted, err := g.store.Insert(ctx, rec)
		if err != nil {
			return Result{}, err
		}
		if inserted {
			outcome := "new"
			if reused {
				outcome = "reused"
			}
			g.metrics.RecordIdempotency(outcome)
			return Result{CreatedAt: rec.CreatedAt}, nil
		}

		existing, err := g.store.Get(ctx, tenantID, key)
		if err != nil {
			return Result{}, err
		}
		if existing == nil {
			// removed between our insert and read
			continue
		}

		if !g.expired(existing) {
			res = Result{
				Duplicate:    true,
				ResponseCode: existing.ResponseCode,
				BodyMismatch: rec.RequestHash != nil && existing.RequestHash != nil && *rec.RequestHash != *existing.RequestHash,
				CreatedAt:    existing.CreatedAt,
			}
			g.metrics.RecordIdempotency("duplicate")
			g.logger.WithTenant(&tenantID).WithFields(map[string]interface{}{
				"idempotency_key": key,
				"in_flight":       existing.ResponseCode == nil,
				"body_mismatch":   res.BodyMismatch,
			}).Info("duplicate idempotent request")
			return res, nil
		}

		if _, err := g.store.Delete(ctx, tenantID, key, existing.CreatedAt); err != nil {
			return Result{}, err
		}
		reused = true
	}

	return Result{}, fmt.Errorf("%w: gave up after %d attempts", ErrContended, g.attempts)
}

// RecordResponse attaches the response code to whichever record currently
// holds the key
func (g *Guard) RecordResponse(ctx context.Context, tenantID int64, key string, code int) error {
	return g.RecordResponseFor(ctx, tenantID, key, time.Time{}, code)
}

// RecordResponseFor attaches code only if the key is still held by the record
// created at createdAt, taken from the Result of CheckAndStore. A record that
// expired and was taken over by another request is left alone.
func (g *Guard) RecordResponseFor(ctx context.Context, tenantID int64, key string, createdAt time.Time, code int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := g.store.SetResponse(ctx, tenantID, key, createdAt, code); err != nil {
		g.metrics.RecordStoreError("idempotency")
		return err
	}
	return nil
}

// Release removes an in-flight record so the client may retry a request that
// failed without a response worth replaying. createdAt comes from the
// Result of the CheckAndStore call that took the key.
func (g *Guard) Release(ctx context.Context, tenantID int64, key string, createdAt time.Time) error {
	if _, err := g.store.Delete(ctx, tenantID, key, createdAt); err != nil {
		g.metrics.RecordStoreError("idempotency")
		return err
	}
	return nil
}

// Purge deletes every record older than the TTL
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	n, err := g.store.DeleteExpired(ctx, g.now().UTC().Add(-g.ttl))
	if err != nil {
		g.metrics.RecordStoreError("idempotency")
		return 0, err
	}
	g.metrics.RecordPurged(n)
	return n, nil
}

func (g *Guard) expired(rec *Record) bool {
	return !rec.CreatedAt.Add(g.ttl).After(g.now())
}

func validateKey(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

func hashBody(body []byte) *string {
	if body == nil {
		return nil
	}
	sum := sha256.Sum256(body)
	h := hex.EncodeToString(sum[:])
	return &h
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
