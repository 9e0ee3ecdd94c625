package audit

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// Handlers provides HTTP handlers for the audit log API. Every route is
// scoped to the tenant on the request context.
type Handlers struct {
	chain    *Chain
	verifier *Verifier
}

// NewHandlers creates new audit handlers
func NewHandlers(chain *Chain, verifier *Verifier) *Handlers {
	return &Handlers{chain: chain, verifier: verifier}
}

// RegisterRoutes registers audit routes behind guard, which must enforce
// audit.view in the request's tenant
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(http.Handler) http.Handler) {
	router.Handle("/v1/audit", guard(http.HandlerFunc(h.search))).Methods(http.MethodGet)
	router.Handle("/v1/audit/verify", guard(http.HandlerFunc(h.verify))).Methods(http.MethodGet)
	router.Handle("/v1/audit/export", guard(http.HandlerFunc(h.export))).Methods(http.MethodGet)
}

// search handles GET /v1/audit
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.GetTenantID(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "tenant required")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.TenantID = &tenantID

	page, err := h.chain.Store().Search(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// verify handles GET /v1/audit/verify
func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.GetTenantID(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "tenant required")
		return
	}

	report, err := h.verifier.VerifyLineage(r.Context(), &tenantID)
	if errors.Is(err, ErrChainDisabled) {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "hash chain verification is disabled")
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// export handles GET /v1/audit/export
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.GetTenantID(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "tenant required")
		return
	}

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatNDJSON)))
	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-log.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-log.ndjson")
	default:
		httputil.WriteBadRequest(w, "format must be ndjson or csv")
		return
	}

	// headers are already out once streaming starts; failures are only logged
	if err := h.chain.Store().Export(r.Context(), w, &tenantID, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export failed")
	}
}

func parseFilter(r *http.Request) (Filter, error) {
	var (
		f   Filter
		err error
	)
	if f.ActorID, err = httputil.ParseQueryInt64Ptr(r, "actor"); err != nil {
		return f, err
	}
	f.EntityType = httputil.ParseQueryString(r, "entity", "")
	f.EntityID = httputil.ParseQueryString(r, "entityId", "")
	if f.From, err = httputil.ParseQueryTime(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = httputil.ParseQueryTime(r, "to"); err != nil {
		return f, err
	}
	cursor, err := httputil.ParseQueryInt64Ptr(r, "cursor")
	if err != nil {
		return f, err
	}
	if cursor != nil {
		f.Cursor = *cursor
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		return f, err
	}
	return f, nil
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("audit request failed")
	if errors.Is(err, storage.ErrUnavailable) {
		httputil.WriteServiceUnavailable(w, "audit store unavailable")
		return
	}
	httputil.WriteInternalError(w)
}
