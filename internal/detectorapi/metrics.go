package detectorapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// Metrics holds Prometheus metrics for the webhook receivers.
type Metrics struct {
	SignalsTotal     *prometheus.CounterVec
	IncidentsCreated *prometheus.CounterVec
}

// NewMetrics registers and returns receiver metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_signals_total",
			Help: "Webhook deliveries by source and result (processed, skipped, rejected, failed).",
		}, []string{"source", "result"}),
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_incidents_created_total",
			Help: "Incidents opened by source and type.",
		}, []string{"source", "type"}),
	}

	reg.MustRegister(
		m.SignalsTotal,
		m.IncidentsCreated,
	)

	return m
}

func (m *Metrics) signal(source, result string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) created(source string, t incident.Type) {
	if m == nil {
		return
	}
	m.IncidentsCreated.WithLabelValues(source, string(t)).Inc()
}
