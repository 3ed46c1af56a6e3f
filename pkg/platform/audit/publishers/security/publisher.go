// Package security delivers security audit events asynchronously. Emit never
// blocks; a bounded backlog sheds the least severe events under pressure and
// a background loop flushes batches to the store.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "vigil/pkg/platform/audit"
)

type Publisher struct {
	store         audit.Store
	buffer        *Backlog
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func New(store audit.Store, capacity int, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        NewBacklog(capacity),
		flushInterval: time.Second,
		batchSize:     100,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.loop()
	return p
}

// Emit enqueues event. Never blocks and never fails.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}
	p.buffer.Push(event)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}

// Close flushes remaining events and stops the background loop.
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
	return nil
}

func (p *Publisher) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *Publisher) flush() {
	ctx := context.Background()
	for {
		batch := p.buffer.Take(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil && p.logger != nil {
				p.logger.Error("failed to persist security audit event",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
