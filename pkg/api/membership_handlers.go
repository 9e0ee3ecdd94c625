package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
)

const entityMembership = "membership"

type grantMembershipRequest struct {
	UserID    int64      `json:"user_id"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type updateMembershipRequest struct {
	Role        *string    `json:"role,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
}

// listMemberships handles GET /v1/memberships
func (s *Server) listMemberships(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := contextkeys.GetTenantID(r.Context())
	members, err := s.service.Resolver().Memberships().ListForTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// grantMembership handles POST /v1/memberships
func (s *Server) grantMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := contextkeys.GetTenantID(ctx)
	actorID, _ := contextkeys.GetUserID(ctx)

	var req grantMembershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkAssignable(ctx, s.service.Resolver().Memberships(), actorID, tenantID, role); err != nil {
		writeError(w, r, err)
		return
	}

	m := &rbac.Membership{
		UserID:    req.UserID,
		TenantID:  tenantID,
		Role:      role,
		GrantedBy: &actorID,
		ExpiresAt: req.ExpiresAt,
	}
	_, err = s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		if err := s.service.Resolver().GrantMembershipTx(ctx, tx, m); err != nil {
			return nil, err
		}
		return []audit.Record{membershipRecord(tenantID, actorID, "membership.grant", m.UserID, nil, m)}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, m)
}

// updateMembership handles PATCH /v1/memberships/{userID}
func (s *Server) updateMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := contextkeys.GetTenantID(ctx)
	actorID, _ := contextkeys.GetUserID(ctx)

	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	var req updateMembershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == nil && req.ExpiresAt == nil && !req.ClearExpiry {
		httputil.WriteBadRequest(w, "nothing to update")
		return
	}
	var role rbac.Role
	if req.Role != nil {
		var err error
		if role, err = rbac.ParseRole(*req.Role); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var after *rbac.Membership
	_, err := s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		before, err := tx.Memberships().Get(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		if before == nil {
			return nil, rbac.ErrMembershipNotFound
		}
		if err := checkAssignable(ctx, tx.Memberships(), actorID, tenantID, before.Role); err != nil {
			return nil, err
		}

		resolver := s.service.Resolver()
		if role != "" {
			if err := checkAssignable(ctx, tx.Memberships(), actorID, tenantID, role); err != nil {
				return nil, err
			}
			if err := resolver.UpdateMembershipRoleTx(ctx, tx, userID, tenantID, role, &actorID); err != nil {
				return nil, err
			}
		}
		if req.ExpiresAt != nil || req.ClearExpiry {
			if err := resolver.SetMembershipExpiryTx(ctx, tx, userID, tenantID, req.ExpiresAt); err != nil {
				return nil, err
			}
		}

		if after, err = tx.Memberships().Get(ctx, userID, tenantID); err != nil {
			return nil, err
		}
		return []audit.Record{membershipRecord(tenantID, actorID, "membership.update", userID, before, after)}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, after)
}

// deactivateMembership handles DELETE /v1/memberships/{userID}. Memberships
// are never removed, only marked INACTIVE.
func (s *Server) deactivateMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := contextkeys.GetTenantID(ctx)
	actorID, _ := contextkeys.GetUserID(ctx)

	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	_, err := s.service.Mutate(ctx, func(tx *rbac.Tx) ([]audit.Record, error) {
		before, err := tx.Memberships().Get(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		if before == nil {
			return nil, rbac.ErrMembershipNotFound
		}
		if err := checkAssignable(ctx, tx.Memberships(), actorID, tenantID, before.Role); err != nil {
			return nil, err
		}
		if err := s.service.Resolver().DeactivateMembershipTx(ctx, tx, userID, tenantID); err != nil {
			return nil, err
		}
		after, err := tx.Memberships().Get(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		return []audit.Record{membershipRecord(tenantID, actorID, "membership.deactivate", userID, before, after)}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// checkAssignable rejects managing a role that ranks above the actor's own
// role in the tenant
func checkAssignable(ctx context.Context, members *rbac.MembershipStore, actorID, tenantID int64, role rbac.Role) error {
	actor, err := members.Get(ctx, actorID, tenantID)
	if err != nil {
		return err
	}
	if actor == nil || !actor.Role.AtLeast(role) {
		return errRoleTooHigh
	}
	return nil
}

func membershipRecord(tenantID, actorID int64, action string, userID int64, before, after *rbac.Membership) audit.Record {
	entityID := strconv.FormatInt(userID, 10)
	rec := audit.Record{
		TenantID:   &tenantID,
		ActorID:    &actorID,
		Action:     action,
		EntityType: entityMembership,
		EntityID:   &entityID,
	}
	if before != nil {
		rec.Before = before
	}
	if after != nil {
		rec.After = after
	}
	return rec
}
