package core

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
)

// Service exposes authorization, audit and deduplication to callers
type Service struct {
	resolver *rbac.Resolver
	chain    *audit.Chain
	guard    *idempotency.Guard
	logger   *observability.Logger
}

// NewService creates a service
func NewService(resolver *rbac.Resolver, chain *audit.Chain, guard *idempotency.Guard, logger *observability.Logger) *Service {
	return &Service{
		resolver: resolver,
		chain:    chain,
		guard:    guard,
		logger:   observability.OrNop(logger),
	}
}

// Resolver returns the permission resolver
func (s *Service) Resolver() *rbac.Resolver { return s.resolver }

// Chain returns the audit chain
func (s *Service) Chain() *audit.Chain { return s.chain }

// Guard returns the idempotency guard
func (s *Service) Guard() *idempotency.Guard { return s.guard }

// Authorize reports whether principal holds permissionKey in tenantID
func (s *Service) Authorize(ctx context.Context, tenantID int64, permissionKey string, principal *identity.Token) (bool, error) {
	return s.resolver.Can(ctx, tenantID, permissionKey, principal)
}

// AuthorizeAnyTenant reports whether principal holds permissionKey in any
// tenant it is an active member of
func (s *Service) AuthorizeAnyTenant(ctx context.Context, permissionKey string, principal *identity.Token) (bool, error) {
	return s.resolver.HasPermissionInAnyTenant(ctx, permissionKey, principal)
}

// RecordAudit appends rec in its own transaction
func (s *Service) RecordAudit(ctx context.Context, rec audit.Record) (*audit.Entry, error) {
	return s.chain.Log(ctx, rec)
}

// RecordAuditTx appends rec inside tx
func (s *Service) RecordAuditTx(ctx context.Context, tx *sql.Tx, rec audit.Record) (*audit.Entry, error) {
	return s.chain.LogTx(ctx, tx, rec)
}

// Dedup checks and stores an idempotency key. priorResponseCode is set only
// for a duplicate whose original has completed.
func (s *Service) Dedup(ctx context.Context, tenantID int64, key string, body []byte) (isDuplicate bool, priorResponseCode *int, err error) {
	res, err := s.guard.CheckAndStore(ctx, tenantID, key, body)
	if err != nil {
		return false, nil, err
	}
	return res.Duplicate, res.ResponseCode, nil
}

// DedupComplete records the response code of the request owning key
func (s *Service) DedupComplete(ctx context.Context, tenantID int64, key string, responseCode int) error {
	return s.guard.RecordResponse(ctx, tenantID, key, responseCode)
}

// Mutate runs fn in one transaction and appends the audit records it
// returns inside the same transaction, so the change and its audit trail
// commit or roll back together. Cache evictions staged by fn run after the
// transaction ends.
func (s *Service) Mutate(ctx context.Context, fn func(tx *rbac.Tx) ([]audit.Record, error)) ([]*audit.Entry, error) {
	var entries []*audit.Entry
	err := s.resolver.Write(ctx, func(tx *rbac.Tx) error {
		records, err := fn(tx)
		if err != nil {
			return err
		}
		entries = make([]*audit.Entry, 0, len(records))
		for _, rec := range records {
			e, err := s.chain.LogTx(ctx, tx.SQL(), rec)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
