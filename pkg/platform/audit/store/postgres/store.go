package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "vigil/pkg/domain"
	audit "vigil/pkg/platform/audit"
	txcontext "vigil/pkg/platform/tx"
)

// Topic names per category. The outbox relay publishes each row to its topic.
const (
	TopicCompliance = "vigil.audit.compliance"
	TopicSecurity   = "vigil.audit.security"
	TopicOps        = "vigil.audit.ops"
)

// TopicFor maps a category to its topic.
func TopicFor(category audit.EventCategory) string {
	switch category {
	case audit.CategoryCompliance:
		return TopicCompliance
	case audit.CategorySecurity:
		return TopicSecurity
	default:
		return TopicOps
	}
}

// Store implements audit.Store with the transactional outbox pattern. Append
// writes to the outbox inside the caller's transaction when there is one; the
// outbox relay publishes to Kafka and the audit consumer materializes rows
// into audit_events via AppendWithID.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Payload is the JSON body published for each audit event.
type Payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// ToPayload converts an event to its wire form.
func ToPayload(eventID uuid.UUID, event audit.Event) Payload {
	p := Payload{
		ID:        eventID.String(),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
		IP:        event.IP,
		Severity:  string(event.Severity),
	}
	if !event.UserID.IsNil() {
		p.UserID = event.UserID.String()
	}
	return p
}

// FromPayload converts the wire form back to an event.
func FromPayload(p Payload) (uuid.UUID, audit.Event, error) {
	eventID, err := uuid.Parse(p.ID)
	if err != nil {
		return uuid.Nil, audit.Event{}, fmt.Errorf("parse event id: %w", err)
	}
	event := audit.Event{
		ID:        p.ID,
		Category:  audit.EventCategory(p.Category),
		Subject:   p.Subject,
		Action:    p.Action,
		Decision:  p.Decision,
		Reason:    p.Reason,
		RequestID: p.RequestID,
		ActorID:   p.ActorID,
		IP:        p.IP,
		Severity:  audit.Severity(p.Severity),
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		event.Timestamp = ts
	} else {
		event.Timestamp = time.Now()
	}
	if p.UserID != "" {
		if uid, err := uuid.Parse(p.UserID); err == nil {
			event.UserID = id.UserID(uid)
		}
	}
	return eventID, event, nil
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	payload, err := json.Marshal(ToPayload(eventID, event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateID := eventID.String()
	if event.Subject != "" {
		aggregateID = event.Subject
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, topic, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		eventID,
		TopicFor(event.Category),
		aggregateID,
		event.Action,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID materializes a consumed event. Duplicate deliveries are
// ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	var userID *uuid.UUID
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, user_id, subject, action,
			decision, reason, request_id, actor_id, ip, severity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`,
		eventID,
		string(event.Category),
		event.Timestamp,
		userID,
		event.Subject,
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ActorID,
		event.IP,
		string(event.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, category, timestamp, user_id, subject, action,
		   decision, reason, request_id, actor_id, ip, severity
	FROM audit_events
`

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE user_id = $1 ORDER BY timestamp DESC`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			eventID  uuid.UUID
			category string
			severity string
			userID   *uuid.UUID
		)
		if err := rows.Scan(
			&eventID,
			&category,
			&event.Timestamp,
			&userID,
			&event.Subject,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ActorID,
			&event.IP,
			&severity,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		event.Severity = audit.Severity(severity)
		if userID != nil {
			event.UserID = id.UserID(*userID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
