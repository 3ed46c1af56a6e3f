// Package compliance provides the fail-closed audit publisher.
//
// Emit blocks until the event is persisted. If persistence fails the caller
// receives an error and must fail its own operation: a vault is never released
// and a death is never recorded without its audit record.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New creates a compliance publisher. In production the store is outbox-backed
// so a committed event is eventually delivered.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// validate reports every missing field at once. A legal record must say who
// it concerns, what happened, to which vault or recovery, and the outcome.
func validate(event audit.ComplianceEvent) error {
	var errs []error
	if event.UserID.IsNil() {
		errs = append(errs, errors.New("user id is required"))
	}
	if event.Subject == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if event.Decision == "" {
		errs = append(errs, errors.New("decision is required"))
	}
	switch {
	case event.Action == "":
		errs = append(errs, errors.New("action is required"))
	case audit.AuditEvent(event.Action).Category() != audit.CategoryCompliance:
		errs = append(errs, fmt.Errorf("action %q is not a compliance event", event.Action))
	}
	return errors.Join(errs...)
}

func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if err := validate(event); err != nil {
		p.metrics.observe(event.Action, outcomeRejected, 0)
		return fmt.Errorf("invalid compliance event: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}

	start := time.Now()
	if err := p.store.Append(ctx, event.ToEvent()); err != nil {
		p.metrics.observe(event.Action, outcomeFailed, time.Since(start))
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"subject", event.Subject,
				"user_id", event.UserID,
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}
	p.metrics.observe(event.Action, outcomePersisted, time.Since(start))
	return nil
}
