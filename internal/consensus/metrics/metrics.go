package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the death consensus engine.
type Metrics struct {
	// Events appended to the log by source
	EventsIngested *prometheus.CounterVec

	// Redeliveries dropped by fingerprint
	EventsDeduped *prometheus.CounterVec

	// Actions forwarded to collaborators
	Actions *prometheus.CounterVec

	// Subjects that exhausted their retry budget
	Escalations prometheus.Counter

	// Evaluations by outcome: applied, waiting, stale, failed
	Evaluations *prometheus.CounterVec

	// Latency of external source calls
	SourceLatency *prometheus.HistogramVec

	// Subjects waiting for the next batch
	PendingSubjects prometheus.Gauge
}

// New creates a new Metrics instance with all consensus metrics registered.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_consensus_events_ingested_total",
			Help: "Verification events appended to the log by source",
		}, []string{"source"}),

		EventsDeduped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_consensus_events_deduped_total",
			Help: "Redelivered verification events dropped by fingerprint",
		}, []string{"source"}),

		Actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_consensus_actions_total",
			Help: "Consensus actions forwarded to collaborators",
		}, []string{"action"}),

		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_consensus_escalations_total",
			Help: "Subjects escalated after exhausting the retry budget",
		}),

		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_consensus_evaluations_total",
			Help: "Subject evaluations by outcome",
		}, []string{"outcome"}),

		SourceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_consensus_source_duration_seconds",
			Help:    "Duration of external evidence source calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),

		PendingSubjects: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_consensus_pending_subjects",
			Help: "Subjects waiting for evaluation",
		}),
	}
}

func (m *Metrics) IncIngested(source string) {
	if m != nil {
		m.EventsIngested.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncDeduped(source string) {
	if m != nil {
		m.EventsDeduped.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncAction(action string) {
	if m != nil {
		m.Actions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncEscalation() {
	if m != nil {
		m.Escalations.Inc()
	}
}

func (m *Metrics) IncEvaluation(outcome string) {
	if m != nil {
		m.Evaluations.WithLabelValues(outcome).Inc()
	}
}

// ObserveSourceLatency records the duration of one call to an evidence source.
func (m *Metrics) ObserveSourceLatency(source string, d time.Duration) {
	if m != nil {
		m.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingSubjects.Set(float64(n))
	}
}
