package sources

import (
	"context"
	"time"

	consensusmetrics "vigil/internal/consensus/metrics"
	"vigil/pkg/platform/circuit"
)

// Guard wraps calls to one external source with a circuit breaker and
// latency metrics. Only retryable failures count against the breaker.
type Guard struct {
	name    string
	breaker *circuit.Breaker
	metrics *consensusmetrics.Metrics
}

func NewGuard(name string, breaker *circuit.Breaker, metrics *consensusmetrics.Metrics) *Guard {
	if breaker == nil {
		breaker = circuit.New(name)
	}
	return &Guard{name: name, breaker: breaker, metrics: metrics}
}

func (g *Guard) Name() string { return g.name }

// Do runs fn unless the breaker is open.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if !g.breaker.Allow() {
		return NewProviderError(ErrorProviderOutage, g.name, "circuit open", nil)
	}
	start := time.Now()
	err := fn(ctx)
	g.metrics.ObserveSourceLatency(g.name, time.Since(start))
	if err != nil && IsRetryable(err) {
		g.breaker.RecordFailure()
		return err
	}
	g.breaker.RecordSuccess()
	return err
}
