package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident lifecycle.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec
	CreatedTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_incident_transitions_total",
			Help: "Lifecycle operations by event and outcome.",
		}, []string{"event", "outcome"}),
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_incidents_created_total",
			Help: "Incidents created by domain, type and severity.",
		}, []string{"domain", "type", "severity"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.CreatedTotal,
	)

	return m
}

func (m *Metrics) transition(event EventType, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(event), outcome).Inc()
}

func (m *Metrics) created(inc *Incident) {
	if m == nil {
		return
	}
	m.CreatedTotal.WithLabelValues(string(inc.Domain), string(inc.Type), string(inc.Severity)).Inc()
}
