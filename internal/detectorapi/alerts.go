package detectorapi

import (
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/signal"
)

const alertSource = "alerts"

// autoResolveOutcome is recorded on incidents closed because their alert
// stopped firing.
var autoResolveOutcome = map[string]any{
	"resolution": "auto_resolved",
	"source":     "signoz_alert_cleared",
}

type alertsResponse struct {
	Firing            int      `json:"firing"`
	ResolvedAlerts    int      `json:"resolved_alerts"`
	IncidentsCreated  int      `json:"incidents_created"`
	IncidentsResolved int      `json:"incidents_resolved"`
	Errors            []string `json:"errors,omitempty"`
}

func validAlertStatus(s signal.AlertStatus) bool {
	switch s {
	case signal.AlertFiring, signal.AlertResolved, signal.AlertInactive:
		return true
	}
	return false
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var hook signal.Webhook
	if !a.decodeBody(w, r, &hook) {
		a.metrics.signal(alertSource, "rejected")
		return
	}
	if hook.Alerts == nil || !validAlertStatus(hook.Status) {
		a.metrics.signal(alertSource, "rejected")
		http.Error(w, `{"error":"Invalid payload"}`, http.StatusBadRequest)
		return
	}
	for _, al := range hook.Alerts {
		if !validAlertStatus(al.Status) {
			a.metrics.signal(alertSource, "rejected")
			http.Error(w, `{"error":"Invalid payload"}`, http.StatusBadRequest)
			return
		}
	}

	firing := hook.Firing()
	resolved := hook.Resolved()
	resp := alertsResponse{Firing: len(firing), ResolvedAlerts: len(resolved)}

	if len(firing) == 0 && len(resolved) == 0 {
		a.metrics.signal(alertSource, "skipped")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	open, err := a.ledger.ListOpenByType(ctx, incident.TypeAlertTriggered)
	if err != nil {
		a.metrics.signal(alertSource, "failed")
		a.logger.Error(ctx, err, "list open alert incidents failed")
		http.Error(w, `{"error":"ledger unavailable"}`, http.StatusBadGateway)
		return
	}

	payloads := make([]incident.Payload, 0, len(firing))
	for _, al := range firing {
		payloads = append(payloads, signal.MapAlert(al))
	}
	for _, p := range fingerprint.DedupPayloads(payloads, open) {
		inc, err := a.ledger.CreateIncident(ctx, p)
		if err != nil {
			a.logger.Error(ctx, err, "create alert incident failed", "fingerprint", p.Fingerprint)
			resp.Errors = append(resp.Errors, "create "+p.Fingerprint+": "+err.Error())
			continue
		}
		resp.IncidentsCreated++
		a.metrics.created(alertSource, incident.TypeAlertTriggered)
		a.logger.Info(ctx, "incident created", "source", alertSource, "incident_id", inc.ID, "fingerprint", p.Fingerprint)
	}

	cleared := mapset.NewThreadUnsafeSet[string]()
	for _, al := range resolved {
		cleared.Add(fingerprint.Alert(al.Fingerprint))
	}
	for _, inc := range open {
		if !cleared.Contains(inc.FingerprintValue()) {
			continue
		}
		if _, err := a.ledger.ResolveIncident(ctx, inc.ID, "", autoResolveOutcome); err != nil {
			a.logger.Error(ctx, err, "auto-resolve failed", "incident_id", inc.ID)
			resp.Errors = append(resp.Errors, "resolve "+inc.ID+": "+err.Error())
			continue
		}
		resp.IncidentsResolved++
		a.logger.Info(ctx, "incident auto-resolved", "incident_id", inc.ID, "fingerprint", inc.FingerprintValue())
	}

	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = http.StatusBadGateway
		a.metrics.signal(alertSource, "failed")
	} else {
		a.metrics.signal(alertSource, "processed")
	}
	writeJSON(w, status, resp)
}
