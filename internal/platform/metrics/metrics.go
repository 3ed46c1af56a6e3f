package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide metrics. Bounded contexts register their own.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	DependencyUp *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		DependencyUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_dependency_up",
			Help: "1 when a backing dependency answered its last health check",
		}, []string{"dependency"}),
	}
}

// SetDependencyUp records the outcome of a health check.
func (m *Metrics) SetDependencyUp(dependency string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(dependency).Set(v)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
