package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

var (
	// errRoleTooHigh rejects role changes above the actor's own role
	errRoleTooHigh = errors.New("cannot manage a role above your own")

	errOverrideNotFound = errors.New("tenant override not found")
)

// writeError maps domain and store errors to responses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrUnknownRole), errors.Is(err, rbac.ErrUnknownPermission):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, errRoleTooHigh):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, rbac.ErrMembershipNotFound), errors.Is(err, errOverrideNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, rbac.ErrMembershipExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		observability.FromContext(r.Context()).WithError(err).Error("store unavailable")
		httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
