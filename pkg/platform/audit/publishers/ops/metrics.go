package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeTracked = "tracked"
	outcomeSampled = "sampled"
	outcomeDropped = "breaker_open"
	outcomeFailed  = "persist_failed"
)

// Metrics counts what happened to each ops event, by action and outcome.
// Methods are nil-safe.
type Metrics struct {
	events  *prometheus.CounterVec
	breaker prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_ops_events_total",
			Help: "Ops audit events by action and outcome (tracked, sampled, breaker_open, persist_failed)",
		}, []string{"action", "outcome"}),
		breaker: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_audit_ops_breaker_open",
			Help: "1 while the ops audit store breaker is open",
		}),
	}
}

func (m *Metrics) observe(action, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breaker.Set(1)
		return
	}
	m.breaker.Set(0)
}
