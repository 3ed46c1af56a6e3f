package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one message. A nil return commits the offset.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Consumer is a group consumer that commits only after the handler accepts a
// record, giving at-least-once delivery.
type Consumer struct {
	client     *kgo.Client
	handler    Handler
	logger     *slog.Logger
	retryDelay time.Duration
}

func New(brokers []string, group string, topics []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger, retryDelay: time.Second}, nil
}

// Run polls until ctx is cancelled. A failing record is retried before the
// partition advances.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var commit []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			if err := c.handleWithRetry(ctx, rec); err != nil {
				return
			}
			commit = append(commit, rec)
		})
		if len(commit) > 0 {
			if err := c.client.CommitRecords(ctx, commit...); err != nil && ctx.Err() == nil {
				c.logger.Error("kafka commit failed", "error", err)
			}
		}
	}
}

// handleWithRetry keeps the partition blocked on a failing message, backing
// off up to a minute, until the handler succeeds or ctx ends.
func (c *Consumer) handleWithRetry(ctx context.Context, rec *kgo.Record) error {
	msg := toMessage(rec)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return c.handler.Handle(ctx, msg)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("message handling failed, retrying",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"wait", wait,
			"error", err,
		)
	})
}

func toMessage(rec *kgo.Record) *Message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}
