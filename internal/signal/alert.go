package signal

import (
	"strings"

	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
)

// AlertStatus is the state a monitoring alert reports.
type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
	AlertInactive AlertStatus = "inactive"
)

// Alert is one alert in an alerting webhook delivery.
type Alert struct {
	Status       AlertStatus       `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// Webhook is an Alertmanager-compatible webhook body.
type Webhook struct {
	Status            AlertStatus       `json:"status"`
	Alerts            []Alert           `json:"alerts"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	GroupKey          string            `json:"groupKey"`
}

// alertDomainPrefixes maps alertname prefixes to domains, checked in order.
var alertDomainPrefixes = []struct {
	prefix string
	domain incident.Domain
}{
	{"cost", incident.DomainCost},
	{"security", incident.DomainSecurity},
	{"reliability", incident.DomainReliability},
	{"infra", incident.DomainInfrastructure},
	{"standards", incident.DomainStandards},
}

// InferDomain picks the incident domain for an alert. A valid "domain" label
// wins; otherwise the alertname prefix decides (cost_, security-, infra_ and
// so on, case-insensitive). Everything else is reliability.
func InferDomain(labels map[string]string) incident.Domain {
	if d := incident.Domain(labels["domain"]); d.Valid() {
		return d
	}
	name := strings.ToLower(labels["alertname"])
	for _, p := range alertDomainPrefixes {
		if strings.HasPrefix(name, p.prefix+"_") || strings.HasPrefix(name, p.prefix+"-") {
			return p.domain
		}
	}
	return incident.DomainReliability
}

// MapAlertSeverity converts an alert severity label. Unknown and empty
// values are medium.
func MapAlertSeverity(s string) incident.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return incident.SeverityCritical
	case "warning":
		return incident.SeverityHigh
	default:
		return incident.SeverityMedium
	}
}

// MapAlert converts a firing alert to an alert_triggered payload.
func MapAlert(a Alert) incident.Payload {
	return incident.Payload{
		Domain:      InferDomain(a.Labels),
		Type:        incident.TypeAlertTriggered,
		Severity:    MapAlertSeverity(a.Labels["severity"]),
		Fingerprint: fingerprint.Alert(a.Fingerprint),
		Observed: map[string]any{
			"alertname":    a.Labels["alertname"],
			"status":       string(a.Status),
			"labels":       stringMap(a.Labels),
			"annotations":  stringMap(a.Annotations),
			"startsAt":     a.StartsAt,
			"generatorURL": a.GeneratorURL,
		},
		Resource: map[string]any{
			"source":      "signoz",
			"alertname":   a.Labels["alertname"],
			"fingerprint": a.Fingerprint,
		},
		PermittedActions: []string{"investigate", "acknowledge", "escalate"},
	}
}

// Firing returns the firing alerts of w, in delivery order.
func (w Webhook) Firing() []Alert { return w.withStatus(AlertFiring) }

// Resolved returns the resolved alerts of w, in delivery order.
func (w Webhook) Resolved() []Alert { return w.withStatus(AlertResolved) }

func (w Webhook) withStatus(s AlertStatus) []Alert {
	var out []Alert
	for _, a := range w.Alerts {
		if a.Status == s {
			out = append(out, a)
		}
	}
	return out
}

// stringMap widens a label map to a JSON object value.
func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
