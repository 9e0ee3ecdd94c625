package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

const (
	// HeaderKey carries the client's idempotency key
	HeaderKey = "Idempotency-Key"
	// HeaderReplayed marks a response replayed from a stored code
	HeaderReplayed = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20

	// completionTimeout bounds recording or releasing a key once the handler
	// has returned, independent of the request context
	completionTimeout = 5 * time.Second
)

// Middleware enforces Idempotency-Key on the routes it wraps. The tenant
// must already be on the request context.
type Middleware struct {
	guard *Guard
}

// NewMiddleware creates the middleware
func NewMiddleware(guard *Guard) *Middleware {
	return &Middleware{guard: guard}
}

// Handler rejects requests without a key, replays duplicates with their
// stored status (409 while the original is in flight) and records the status
// of new requests. A new request that fails with a 5xx or panics releases its
// key.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, ok := contextkeys.GetTenantID(ctx)
		if !ok {
			httputil.WriteBadRequest(w, "tenant required")
			return
		}

		key := r.Header.Get(HeaderKey)
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		res, err := m.guard.CheckAndStore(ctx, tenantID, key, body)
		if err != nil {
			writeGuardError(w, r, err)
			return
		}

		if res.Duplicate {
			w.Header().Set(HeaderReplayed, "true")
			if res.ResponseCode == nil {
				httputil.WriteConflict(w, "a request with this idempotency key is still in progress")
				return
			}
			w.WriteHeader(*res.ResponseCode)
			return
		}

		logger := observability.FromContext(ctx).WithField("idempotency_key", key)
		release := func() {
			sctx, cancel := completionContext(ctx)
			defer cancel()
			if err := m.guard.Release(sctx, tenantID, key, res.CreatedAt); err != nil {
				logger.WithError(err).Error("failed to release idempotency key")
			}
		}

		defer func() {
			if p := recover(); p != nil {
				release()
				panic(p)
			}
		}()

		rec := httputil.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		if rec.Status >= http.StatusInternalServerError {
			release()
			return
		}

		sctx, cancel := completionContext(ctx)
		defer cancel()
		if err := m.guard.RecordResponseFor(sctx, tenantID, key, res.CreatedAt, rec.Status); err != nil {
			logger.WithError(err).WithField("status", rec.Status).Error("failed to record idempotent response")
		}
	})
}

// completionContext outlives a cancelled request so the key never stays in
// flight after the handler finished
func completionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
}

func writeGuardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingKey):
		httputil.WriteBadRequest(w, HeaderKey+" header is required")
	case errors.Is(err, ErrKeyTooLong):
		httputil.WriteBadRequest(w, HeaderKey+" header is too long")
	case errors.Is(err, ErrContended):
		httputil.WriteConflict(w, "idempotency key is contended, retry later")
	case errors.Is(err, storage.ErrUnavailable):
		observability.FromContext(r.Context()).WithError(err).Error("idempotency store unavailable")
		httputil.WriteServiceUnavailable(w, "idempotency store unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("idempotency check failed")
		httputil.WriteInternalError(w)
	}
}
