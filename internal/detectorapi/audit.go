package detectorapi

import (
	"net/http"

	"github.com/progression-labs-development/monitoring/internal/audit"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/signal"
)

type auditResponse struct {
	Cloud            string `json:"cloud"`
	EventName        string `json:"eventName"`
	ResourceID       string `json:"resourceId"`
	Classification   string `json:"classification"`
	IncidentsCreated int    `json:"incidentsCreated"`
}

func (a *API) handleCloudTrail(w http.ResponseWriter, r *http.Request) {
	const source = "cloudtrail"

	var body audit.CloudTrailEvent
	if !a.decodeBody(w, r, &body) {
		a.metrics.signal(source, "rejected")
		return
	}
	if a.deploying(r) {
		a.metrics.signal(source, "skipped")
		writeSkip(w, "deployment in progress")
		return
	}
	ev, ok := audit.ParseCloudTrail(body)
	if !ok {
		a.metrics.signal(source, "skipped")
		writeSkip(w, "non-create event")
		return
	}
	a.processAuditEvent(w, r, source, ev)
}

func (a *API) handleGCPAudit(w http.ResponseWriter, r *http.Request) {
	const source = "gcp-audit"

	var push audit.PubSubPush
	if !a.decodeBody(w, r, &push) {
		a.metrics.signal(source, "rejected")
		return
	}
	if a.deploying(r) {
		a.metrics.signal(source, "skipped")
		writeSkip(w, "deployment in progress")
		return
	}
	ev, ok, err := audit.ParseGCPAudit(push)
	if err != nil {
		a.metrics.signal(source, "rejected")
		http.Error(w, `{"error":"Invalid payload"}`, http.StatusBadRequest)
		return
	}
	if !ok {
		a.metrics.signal(source, "skipped")
		writeSkip(w, "non-create event")
		return
	}
	a.processAuditEvent(w, r, source, ev)
}

func (a *API) deploying(r *http.Request) bool {
	return a.lock != nil && a.lock.Active(r.Context())
}

// processAuditEvent opens a drift incident when provisioning state owns the
// resource and a rogue incident when it does not.
func (a *API) processAuditEvent(w http.ResponseWriter, r *http.Request, source string, ev *audit.Event) {
	ctx := r.Context()

	exists, err := a.state.Exists(ctx, ev)
	if err != nil {
		a.metrics.signal(source, "failed")
		a.logger.Error(ctx, err, "provisioning state check failed", "resource_id", ev.ResourceID)
		http.Error(w, `{"error":"state check failed"}`, http.StatusBadGateway)
		return
	}

	payload, typ, class := signal.MapRogueEvent(*ev), incident.TypeRogueResource, "rogue"
	if exists {
		payload, typ, class = signal.MapDriftEvent(*ev), incident.TypeDrift, "drift"
	}

	created, _, err := a.createFresh(ctx, source, typ, []incident.Payload{payload})
	if err != nil {
		a.metrics.signal(source, "failed")
		a.logger.Error(ctx, err, "audit event incident failed", "resource_id", ev.ResourceID)
		http.Error(w, `{"error":"ledger unavailable"}`, http.StatusBadGateway)
		return
	}

	a.metrics.signal(source, "processed")
	writeJSON(w, http.StatusOK, auditResponse{
		Cloud:            string(ev.Cloud),
		EventName:        ev.EventName,
		ResourceID:       ev.ResourceID,
		Classification:   class,
		IncidentsCreated: created,
	})
}
