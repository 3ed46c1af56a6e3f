package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"vigil/internal/platform/kafka/producer"
)

// Publisher is the producer surface the Kafka sink uses.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []producer.Message) error
}

// KafkaSink publishes changes keyed by aggregate id so a consumer sees one
// aggregate's transitions in order.
type KafkaSink struct {
	publisher Publisher
	topic     string
}

func NewKafkaSink(publisher Publisher, topic string) *KafkaSink {
	return &KafkaSink{publisher: publisher, topic: topic}
}

func (s *KafkaSink) Deliver(ctx context.Context, changes []StatusChange) error {
	msgs := make([]producer.Message, 0, len(changes))
	for _, c := range changes {
		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal status change: %w", err)
		}
		msgs = append(msgs, producer.Message{
			Topic: s.topic,
			Key:   []byte(c.AggregateID),
			Value: value,
			Headers: map[string]string{
				"aggregate": c.Aggregate,
				"to":        c.To,
			},
		})
	}
	return s.publisher.PublishBatch(ctx, msgs)
}

// LogSink writes changes to the log when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, changes []StatusChange) error {
	for _, c := range changes {
		s.logger.InfoContext(ctx, "status changed",
			"aggregate", c.Aggregate,
			"aggregate_id", c.AggregateID,
			"from", c.From,
			"to", c.To,
			"reason", c.Reason,
		)
	}
	return nil
}
