package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// AuditTrail is the read side of the audit log plus a way to record that it
// was read.
type AuditTrail interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, userID id.UserID) ([]audit.Event, error)
}

// AuditHandler lets a caller list the audit events recorded against their
// own account.
type AuditHandler struct {
	trail  AuditTrail
	logger *slog.Logger
}

func NewAuditHandler(trail AuditTrail, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{trail: trail, logger: logger}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit/events", h.HandleList)
}

type AuditEventResponse struct {
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AuditListResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller identity is required"))
		return
	}
	events, err := h.trail.List(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit events failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}

	resp := AuditListResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			Category:  string(e.Category),
			Action:    e.Action,
			Subject:   e.Subject,
			Decision:  e.Decision,
			Reason:    e.Reason,
			ActorID:   e.ActorID,
			RequestID: e.RequestID,
			Timestamp: e.Timestamp,
		})
	}

	// Listing never fails because the access record could not be written.
	if err := h.trail.Emit(ctx, audit.Event{
		UserID:    userID,
		Action:    string(audit.EventAuditTrailViewed),
		Decision:  "listed",
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   userID.String(),
		IP:        requestcontext.ClientIP(ctx),
		Timestamp: requestcontext.Now(ctx),
	}); err != nil {
		h.logger.WarnContext(ctx, "record audit access failed", "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
