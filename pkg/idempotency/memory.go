package idempotency

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It suits tests and single
// instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func memoryKey(tenantID int64, key string) string {
	return strconv.FormatInt(tenantID, 10) + ":" + key
}

// Insert adds rec unless the key is already taken
func (s *MemoryStore) Insert(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(rec.TenantID, rec.Key)
	if _, ok := s.records[k]; ok {
		return false, nil
	}
	s.records[k] = rec
	return true, nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(_ context.Context, tenantID int64, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SetResponse stores the response code on the record
func (s *MemoryStore) SetResponse(_ context.Context, tenantID int64, key string, createdAt time.Time, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(tenantID, key)
	rec, ok := s.records[k]
	if !ok || (!createdAt.IsZero() && !rec.CreatedAt.Equal(createdAt)) {
		return nil
	}
	rec.ResponseCode = &code
	s.records[k] = rec
	return nil
}

// Delete removes the record created at createdAt
func (s *MemoryStore) Delete(_ context.Context, tenantID int64, key string, createdAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(tenantID, key)
	rec, ok := s.records[k]
	if !ok || !rec.CreatedAt.Equal(createdAt) {
		return false, nil
	}
	delete(s.records, k)
	return true, nil
}

// DeleteExpired removes records created at or before before
func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.records {
		if !rec.CreatedAt.After(before) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
