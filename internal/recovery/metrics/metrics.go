package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes the recovery machine. Methods are nil-safe.
type Metrics struct {
	Created   prometheus.Counter
	Triggered prometheus.Counter
	Completed prometheus.Counter
	Rejected  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_recoveries_created_total",
			Help: "Wallet recoveries registered",
		}),
		Triggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_recoveries_triggered_total",
			Help: "Recoveries that reached key quorum",
		}),
		Completed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_recoveries_completed_total",
			Help: "Recoveries completed after the timelock",
		}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_recovery_rejections_total",
			Help: "Rejected recovery calls by operation and code",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

func (m *Metrics) IncTriggered() {
	if m == nil {
		return
	}
	m.Triggered.Inc()
}

func (m *Metrics) IncCompleted() {
	if m == nil {
		return
	}
	m.Completed.Inc()
}

func (m *Metrics) IncRejected(op, code string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(op, code).Inc()
}
