// Package notification fans committed status changes out to collaborators
// (UI refresh, email, push). Delivery is best effort: Notify never blocks the
// authority, and the oldest pending change is dropped when the queue is full.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink delivers a batch of changes.
type Sink interface {
	Deliver(ctx context.Context, changes []StatusChange) error
}

type Metrics struct {
	Enqueued  prometheus.Counter
	Dropped   prometheus.Counter
	Delivered prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notifications_enqueued_total",
			Help: "Status changes queued for delivery",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notifications_dropped_total",
			Help: "Status changes dropped because the queue was full",
		}),
		Delivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notifications_delivered_total",
			Help: "Status changes handed to the sink",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notification_delivery_failures_total",
			Help: "Batches the sink rejected",
		}),
	}
}

type Dispatcher struct {
	sink      Sink
	logger    *slog.Logger
	metrics   *Metrics
	capacity  int
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	queue   []StatusChange
	dropped int64

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:      sink,
		logger:    slog.Default(),
		capacity:  1024,
		batchSize: 100,
		interval:  time.Second,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.loop()
	return d
}

// Notify queues change for delivery.
func (d *Dispatcher) Notify(_ context.Context, change StatusChange) {
	d.mu.Lock()
	if len(d.queue) >= d.capacity {
		d.queue = d.queue[1:]
		d.dropped++
		if d.metrics != nil {
			d.metrics.Dropped.Inc()
		}
	}
	d.queue = append(d.queue, change)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.Enqueued.Inc()
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close delivers what is queued and stops the loop.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() {
		close(d.stop)
		<-d.done
	})
	return nil
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			d.flush()
			return
		case <-ticker.C:
			d.flush()
		case <-d.wake:
			d.flush()
		}
	}
}

func (d *Dispatcher) take() []StatusChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := min(len(d.queue), d.batchSize)
	if n == 0 {
		return nil
	}
	batch := make([]StatusChange, n)
	copy(batch, d.queue[:n])
	d.queue = d.queue[n:]
	return batch
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		batch := d.take()
		if len(batch) == 0 {
			return
		}
		if err := d.sink.Deliver(ctx, batch); err != nil {
			if d.metrics != nil {
				d.metrics.Failures.Inc()
			}
			d.logger.Error("failed to deliver status changes",
				"count", len(batch),
				"error", err,
			)
			continue
		}
		if d.metrics != nil {
			d.metrics.Delivered.Add(float64(len(batch)))
		}
	}
}
