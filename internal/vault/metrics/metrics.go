package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes the vault authority. Every method is nil-safe so services
// can run without metrics in tests.
type Metrics struct {
	VaultsCreated     prometheus.Counter
	Transitions       *prometheus.CounterVec
	Claims            prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		VaultsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_vaults_created_total",
			Help: "Total number of vaults created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_vault_transitions_total",
			Help: "Committed vault status transitions",
		}, []string{"from", "to"}),
		Claims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_vault_claims_total",
			Help: "Successful beneficiary claims",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_vault_operation_duration_seconds",
			Help:    "Duration of vault authority operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_vault_operation_errors_total",
			Help: "Rejected vault operations by error code",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncVaultCreated() {
	if m == nil {
		return
	}
	m.VaultsCreated.Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncClaim() {
	if m == nil {
		return
	}
	m.Claims.Inc()
}

// ObserveOperation records the duration of op. Call with the start time.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncError(op, code string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(op, code).Inc()
}
