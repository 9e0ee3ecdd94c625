package audit

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrChainDisabled is returned by verification when hash chaining is off.
	// Integrity cannot be claimed for entries written without hashes.
	ErrChainDisabled = errors.New("audit hash chain disabled")

	// ErrChainForked is returned when another append already claimed the
	// predecessor. Postgres reports it through the chain's unique index.
	ErrChainForked = errors.New("audit chain fork rejected")

	// ErrInvalidRecord is returned for records missing an action or entity type
	ErrInvalidRecord = errors.New("invalid audit record")
)

// GlobalLineage names the chain of tenant-less entries
const GlobalLineage = "global"

// LineageOf returns the chain name for tenantID; nil is the global lineage
func LineageOf(tenantID *int64) string {
	if tenantID == nil {
		return GlobalLineage
	}
	return "tenant:" + strconv.FormatInt(*tenantID, 10)
}

// Record is a business mutation to be logged
type Record struct {
	TenantID   *int64
	ActorID    *int64
	Action     string
	EntityType string
	EntityID   *string
	// Before and After may be any JSON-encodable value, json.RawMessage or nil
	Before interface{}
	After  interface{}
}

// Entry is an appended, immutable audit log row
type Entry struct {
	ID         int64           `json:"id"`
	TenantID   *int64          `json:"tenant_id,omitempty"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   *string         `json:"entity_id,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Hash       *string         `json:"hash,omitempty"`
	PrevHash   *string         `json:"prev_hash,omitempty"`
}

// Lineage returns the chain this entry belongs to
func (e *Entry) Lineage() string {
	return LineageOf(e.TenantID)
}

// Filter selects entries for Search. Zero values do not filter.
type Filter struct {
	TenantID   *int64
	ActorID    *int64
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time
	// Cursor is the id of the last entry already seen
	Cursor int64
	Limit  int
}

// Page size bounds
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// NormalizedLimit clamps Limit into [1, MaxLimit], defaulting to DefaultLimit
func (f Filter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// CursorPage is one page of a keyset-paginated search
type CursorPage struct {
	Items      []Entry `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// Violation kinds
const (
	ViolationHashMismatch = "hash_mismatch"
	ViolationBrokenLink   = "broken_link"
	ViolationMissingHash  = "missing_hash"
)

// IntegrityViolation is one inconsistency found by verification
type IntegrityViolation struct {
	EntryID  int64  `json:"entry_id"`
	Kind     string `json:"kind"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerificationReport is the result of verifying one lineage
type VerificationReport struct {
	Lineage    string               `json:"lineage"`
	TenantID   *int64               `json:"tenant_id,omitempty"`
	Checked    int                  `json:"checked"`
	Unchained  int                  `json:"unchained"`
	Violations []IntegrityViolation `json:"violations"`
	VerifiedAt time.Time            `json:"verified_at"`
}

// Intact reports whether no violation was found
func (r *VerificationReport) Intact() bool {
	return len(r.Violations) == 0
}
