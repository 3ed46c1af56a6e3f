// Package ops records routine operational audit events. Tracking is
// best-effort: events may be sampled away, and while the store is failing a
// circuit breaker drops them without attempting persistence.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "vigil/pkg/platform/audit"
	"vigil/pkg/platform/circuit"
)

type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Tracker)

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) { t.sampler = s }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(t *Tracker) { t.breaker = b }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func New(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1.0),
		breaker: circuit.New("audit-ops", circuit.WithFailureThreshold(5), circuit.WithCooldown(time.Minute)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track persists event unless it is sampled out or the breaker is open.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if !t.sampler.ShouldSample(event.Action) {
		t.metrics.observe(event.Action, outcomeSampled)
		return
	}
	if !t.breaker.Allow() {
		t.metrics.observe(event.Action, outcomeDropped)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := t.store.Append(ctx, event.ToEvent()); err != nil {
		_, change := t.breaker.RecordFailure()
		t.metrics.observe(event.Action, outcomeFailed)
		if change.Opened {
			t.metrics.setBreakerOpen(true)
			if t.logger != nil {
				t.logger.WarnContext(ctx, "ops audit circuit opened", "action", event.Action, "error", err)
			}
		}
		return
	}

	if _, change := t.breaker.RecordSuccess(); change.Closed {
		t.metrics.setBreakerOpen(false)
	}
	t.metrics.observe(event.Action, outcomeTracked)
}
