// Package worker persists buffered audit events in the background.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	audit "vigil/pkg/platform/audit"
)

const (
	defaultAttempts = 3
	defaultWait     = 50 * time.Millisecond
)

// Worker drains audit events from a channel into a store until the channel
// closes or ctx ends. A failing write is retried with doubling backoff; an
// event that still fails is logged and counted as lost.
type Worker struct {
	store    audit.Store
	inbox    <-chan audit.Event
	logger   *slog.Logger
	attempts int
	wait     time.Duration
	lost     int64
}

type Option func(*Worker)

func WithRetry(attempts int, wait time.Duration) Option {
	return func(w *Worker) {
		w.attempts = max(attempts, 1)
		w.wait = wait
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		inbox:    inbox,
		logger:   logger,
		attempts: defaultAttempts,
		wait:     defaultWait,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.persist(ctx, event)
		}
	}
}

// Lost is only meaningful once Run has returned.
func (w *Worker) Lost() int64 { return w.lost }

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.wait
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return w.store.Append(ctx, event)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.attempts-1)), ctx))
	if err == nil {
		return
	}
	w.lost++
	if w.logger != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action,
			"subject", event.Subject,
			"attempts", w.attempts,
			"error", err,
		)
	}
}
