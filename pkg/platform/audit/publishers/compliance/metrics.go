package compliance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomePersisted = "persisted"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

type Metrics struct {
	Events          *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_compliance_events_total",
			Help: "Compliance audit events by action and outcome; failed and rejected events failed the caller's operation",
		}, []string{"action", "outcome"}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_audit_compliance_persist_duration_seconds",
			Help:    "Latency of synchronous compliance audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) observe(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(action, outcome).Inc()
	if outcome != outcomeRejected {
		m.PersistDuration.Observe(d.Seconds())
	}
}
