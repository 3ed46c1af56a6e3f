package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vigil/internal/platform/kafka/consumer"
	audit "vigil/pkg/platform/audit"
	auditpg "vigil/pkg/platform/audit/store/postgres"
)

// MaterializeStore persists consumed events idempotently.
type MaterializeStore interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Handler materializes audit events from any category topic. Compliance
// events without a user are logged as critical and skipped.
type Handler struct {
	store    MaterializeStore
	category audit.EventCategory
	logger   *slog.Logger
}

func NewHandler(store MaterializeStore, category audit.EventCategory, logger *slog.Logger) *Handler {
	return &Handler{store: store, category: category, logger: logger}
}

// Handle returns nil for malformed messages so they are committed rather
// than redelivered forever; store failures return an error for redelivery.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload auditpg.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Error("failed to unmarshal audit payload",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}

	eventID, event, err := auditpg.FromPayload(payload)
	if err != nil {
		h.logger.Error("malformed audit event", "topic", msg.Topic, "error", err)
		return nil
	}
	event.Category = h.category

	if h.category == audit.CategoryCompliance && event.UserID.IsNil() {
		h.logger.Error("CRITICAL: compliance event missing user",
			"event_id", eventID,
			"action", event.Action,
		)
		return nil
	}

	if err := h.store.AppendWithID(ctx, eventID, event); err != nil {
		return fmt.Errorf("store %s event: %w", h.category, err)
	}

	h.logger.Debug("stored audit event",
		"event_id", eventID,
		"category", h.category,
		"action", event.Action,
	)
	return nil
}

// NewAuditRouter routes the three category topics into store.
func NewAuditRouter(store MaterializeStore, logger *slog.Logger) *Router {
	return NewRouter(logger, map[string]TopicHandler{
		auditpg.TopicCompliance: NewHandler(store, audit.CategoryCompliance, logger),
		auditpg.TopicSecurity:   NewHandler(store, audit.CategorySecurity, logger),
		auditpg.TopicOps:        NewHandler(store, audit.CategoryOperations, logger),
	})
}
