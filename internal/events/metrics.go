package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for event delivery.
type Metrics struct {
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_deliveries_total",
			Help: "Event deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_event_delivery_duration_seconds",
			Help:    "Duration of event deliveries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.DeliveriesTotal,
		m.DeliveryDuration,
	)

	return m
}

func (m *Metrics) delivery(sink, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(sink, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(sink).Observe(dur.Seconds())
}
