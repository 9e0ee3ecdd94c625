package idempotency

import (
	"context"
	"errors"
	"time"
)

// MaxKeyLength bounds client-supplied keys
const MaxKeyLength = 255

var (
	// ErrMissingKey is returned when a registered endpoint gets no key
	ErrMissingKey = errors.New("idempotency key is required")

	// ErrKeyTooLong is returned for keys longer than MaxKeyLength
	ErrKeyTooLong = errors.New("idempotency key is too long")

	// ErrContended is returned when expired records kept being replaced while
	// the guard tried to take the key over
	ErrContended = errors.New("idempotency key is contended")
)

// Record is one stored idempotency key
type Record struct {
	TenantID     int64     `json:"tenant_id"`
	Key          string    `json:"key"`
	RequestHash  *string   `json:"request_hash,omitempty"`
	ResponseCode *int      `json:"response_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Result is the outcome of CheckAndStore. ResponseCode is nil for a new
// request and for a duplicate whose original has not completed.
type Result struct {
	Duplicate    bool
	ResponseCode *int
	BodyMismatch bool
	// CreatedAt identifies the stored record this call observed
	CreatedAt time.Time
}

// Store persists idempotency records. Insert must be an atomic
// compare-and-insert: it stores rec only when no record exists for
// (rec.TenantID, rec.Key) and reports whether it did.
type Store interface {
	Insert(ctx context.Context, rec Record) (bool, error)
	// Get returns nil when no record exists
	Get(ctx context.Context, tenantID int64, key string) (*Record, error)
	// SetResponse attaches code to an existing record. A non-zero createdAt
	// restricts the update to the record created then. A missing record is
	// not an error.
	SetResponse(ctx context.Context, tenantID int64, key string, createdAt time.Time, code int) error
	// Delete removes the record only if it is still the one created at createdAt
	Delete(ctx context.Context, tenantID int64, key string, createdAt time.Time) (bool, error)
	// DeleteExpired removes records created at or before before
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
