package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vigil/internal/platform/kafka/producer"
)

// Publisher is the subset of the Kafka producer the relay needs.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []producer.Message) error
}

// Entry is one row of the outbox table.
type Entry struct {
	ID          uuid.UUID
	Topic       string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
	Lag       prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_outbox_published_total",
			Help: "Outbox entries relayed to Kafka",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_outbox_publish_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
		Lag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_outbox_oldest_entry_age_seconds",
			Help: "Age of the oldest entry in the last relayed batch",
		}),
	}
}

// Relay moves committed outbox rows to Kafka. Rows are locked with
// SKIP LOCKED so several relays can run side by side.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(db *sql.DB, publisher Publisher, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay failed", "error", err)
			} else if n > 0 {
				r.logger.Debug("outbox relayed", "count", n)
			}
		}
	}
}

// RelayOnce publishes one batch and marks it published in the same
// transaction that locked it.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, topic, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox: %w", err)
	}
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	msgs := make([]producer.Message, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, producer.Message{
			Topic: e.Topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				"event_id":   e.ID.String(),
				"event_type": e.EventType,
			},
		})
		ids = append(ids, e.ID.String())
	}
	if err := r.publisher.PublishBatch(ctx, msgs); err != nil {
		if r.metrics != nil {
			r.metrics.Failures.Inc()
		}
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET published_at = NOW() WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Published.Add(float64(len(entries)))
		r.metrics.Lag.Set(time.Since(entries[0].CreatedAt).Seconds())
	}
	return len(entries), nil
}
