// Package ledgerapi exposes the incident ledger over HTTP.
package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// IncidentService defines the business operations ledgerapi needs.
type IncidentService interface {
	Create(ctx context.Context, p incident.Payload) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error)
	Claim(ctx context.Context, id, claimedBy string) (*incident.Incident, error)
	Resolve(ctx context.Context, id string, outcome map[string]any, status incident.Status) (*incident.Incident, error)
}

// Pinger checks storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
	db     Pinger
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService, db Pinger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	if db == nil {
		panic(xerrors.New("health pinger is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		db:     db,
	}
}

// RegisterRoutes attaches the ledger endpoints to r. mws wrap the
// /incidents routes only; /health stays open for load balancers.
func (a *API) RegisterRoutes(r chi.Router, mws ...func(http.Handler) http.Handler) {
	r.Get("/health", a.handleHealth)
	r.Route("/incidents", func(r chi.Router) {
		r.Use(mws...)
		r.Post("/", a.handleCreate)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Patch("/{id}/claim", a.handleClaim)
		r.Patch("/{id}/resolve", a.handleResolve)
	})
}

type listResponse struct {
	Data  []*incident.Incident `json:"data"`
	Count int                  `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

type conflictResponse struct {
	Error    string             `json:"error"`
	Incident *incident.Incident `json:"incident"`
}

type claimRequest struct {
	ClaimedBy string `json:"claimed_by"`
}

type resolveRequest struct {
	Outcome map[string]any  `json:"outcome"`
	Status  incident.Status `json:"status"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var p incident.Payload
	if !decodeBody(w, r, &p) {
		return
	}

	inc, err := a.svc.Create(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err, "failed to create incident")
		return
	}
	annotate(r.Context(), inc)
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		a.writeError(w, r, err, "invalid list filter")
		return
	}

	items, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to list incidents")
		return
	}
	if items == nil {
		items = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: items, Count: len(items)})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ledger.incident.id", id))

	inc, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return
	}
	annotate(r.Context(), inc)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ledger.incident.id", id))

	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inc, err := a.svc.Claim(r.Context(), id, req.ClaimedBy)
	if err != nil {
		a.writeError(w, r, err, "failed to claim incident")
		return
	}
	annotate(r.Context(), inc)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ledger.incident.id", id))

	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inc, err := a.svc.Resolve(r.Context(), id, req.Outcome, req.Status)
	if err != nil {
		a.writeError(w, r, err, "failed to resolve incident")
		return
	}
	annotate(r.Context(), inc)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(r.Context()); err != nil {
		a.logger.Error(r.Context(), err, "health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the incident error taxonomy onto HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var (
		ve *incident.ValidationError
		ce *incident.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, incident.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.As(err, &ce):
		annotate(r.Context(), ce.Current)
		writeJSON(w, http.StatusConflict, conflictResponse{Error: capitalize(ce.Reason), Incident: ce.Current})
	default:
		a.logger.Error(r.Context(), err, msg, "id", chi.URLParam(r, "id"))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func parseListFilter(r *http.Request) (incident.ListFilter, error) {
	q := r.URL.Query()
	f := incident.ListFilter{
		Status:   incident.Status(q.Get("status")),
		Domain:   incident.Domain(q.Get("domain")),
		Type:     incident.Type(q.Get("type")),
		Severity: incident.Severity(q.Get("severity")),
	}

	v := &incident.ValidationError{}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			v.Add("limit", "must be an integer >= 1")
		}
		f.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			v.Add("offset", "must be an integer >= 0")
		}
		f.Offset = n
	}
	return f, v.OrNil()
}

// decodeBody writes a 400 and returns false when the body is not a JSON
// object of the expected shape.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func annotate(ctx context.Context, inc *incident.Incident) {
	if inc == nil {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("ledger.incident.id", inc.ID),
		attribute.String("ledger.incident.status", string(inc.Status)),
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
