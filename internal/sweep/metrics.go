package sweep

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

// Metrics holds Prometheus metrics for enforcement sweeps.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	Duration         prometheus.Histogram
	Resources        *prometheus.GaugeVec
	IncidentsCreated prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns sweep metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_sweep_runs_total",
			Help: "Sweeps by outcome (ok, partial, failed).",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_sweep_duration_seconds",
			Help:    "Wall time of a sweep.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "detector_sweep_resources",
			Help: "Live resources seen by the last sweep, by classification.",
		}, []string{"classification"}),
		IncidentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_sweep_incidents_created_total",
			Help: "Rogue resource incidents opened by sweeps.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_sweep_errors_total",
			Help: "Non-fatal sweep errors by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.Duration,
		m.Resources,
		m.IncidentsCreated,
		m.ErrorsTotal,
	)

	return m
}

func (m *Metrics) observe(res *Result, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.Duration.Observe(seconds)
	if res == nil {
		return
	}
	m.Resources.WithLabelValues(string(classify.Managed)).Set(float64(res.Managed))
	m.Resources.WithLabelValues(string(classify.Rogue)).Set(float64(res.Rogue))
	m.Resources.WithLabelValues(string(classify.ProviderManaged)).Set(float64(res.ProviderManaged))
	m.IncidentsCreated.Add(float64(res.IncidentsCreated))
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}
