package consumer

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"vigil/internal/platform/kafka/consumer"
)

type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// HandlerFunc adapts a function to TopicHandler.
type HandlerFunc func(ctx context.Context, msg *consumer.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *consumer.Message) error { return f(ctx, msg) }

// Router dispatches by topic. The table is fixed at construction, so
// partition workers read it without locking.
type Router struct {
	routes map[string]TopicHandler
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger, routes map[string]TopicHandler) *Router {
	return &Router{routes: maps.Clone(routes), logger: logger}
}

// Topics is the subscription the router can serve, sorted.
func (r *Router) Topics() []string {
	return slices.Sorted(maps.Keys(r.routes))
}

// Handle routes msg to its topic handler. A message on an unknown topic is
// logged and committed so it cannot stall the group.
func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	handler, ok := r.routes[msg.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for topic, skipping message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}
	return handler.Handle(ctx, msg)
}
