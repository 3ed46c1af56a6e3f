package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/recovery/models"
	"vigil/internal/recovery/service"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

type Service interface {
	CreateRecovery(ctx context.Context, cmd service.CreateRecoveryCommand) (*models.Recovery, error)
	GetRecovery(ctx context.Context, recoveryID id.RecoveryID) (*service.View, error)
	AttestRecovery(ctx context.Context, recoveryID id.RecoveryID) (*service.View, error)
	CompleteRecovery(ctx context.Context, recoveryID id.RecoveryID) ([]byte, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/recoveries", h.HandleCreate)
	r.Get("/recoveries/{id}", h.HandleGet)
	r.Post("/recoveries/{id}/attestations", h.HandleAttest)
	r.Post("/recoveries/{id}/complete", h.HandleComplete)
}

// CreateRecoveryRequest carries the encrypted wallet payload as base64.
type CreateRecoveryRequest struct {
	WalletID string   `json:"wallet_id"`
	Keys     []string `json:"keys"`
	Payload  []byte   `json:"payload"`

	wallet id.WalletID
	keys   []id.UserID
}

func (r *CreateRecoveryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	wallet, err := id.ParseWalletID(strings.TrimSpace(r.WalletID))
	if err != nil {
		return err
	}
	r.wallet = wallet
	if len(r.Keys) != 3 {
		return dErrors.New(dErrors.CodeValidation, "exactly 3 recovery keys are required")
	}
	r.keys = make([]id.UserID, 0, len(r.Keys))
	for _, k := range r.Keys {
		u, err := id.ParseUserID(strings.TrimSpace(k))
		if err != nil {
			return err
		}
		r.keys = append(r.keys, u)
	}
	if len(r.Payload) == 0 {
		return dErrors.New(dErrors.CodeValidation, "payload is required")
	}
	return nil
}

type RecoveryResponse struct {
	ID           string     `json:"id"`
	WalletID     string     `json:"wallet_id"`
	OwnerID      string     `json:"owner_id"`
	Keys         []string   `json:"keys"`
	Status       string     `json:"status"`
	Attestations int        `json:"attestations"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty"`
	UnlockAt     *time.Time `json:"unlock_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func FromRecovery(r *models.Recovery) *RecoveryResponse {
	keys := make([]string, len(r.Keys))
	for i, k := range r.Keys {
		keys[i] = k.String()
	}
	resp := &RecoveryResponse{
		ID:           r.ID.String(),
		WalletID:     r.WalletID.String(),
		OwnerID:      r.OwnerID.String(),
		Keys:         keys,
		Status:       string(r.Status),
		Attestations: r.Attestations.Count(),
		TriggeredAt:  r.TriggeredAt,
		CompletedAt:  r.CompletedAt,
		CreatedAt:    r.CreatedAt,
	}
	return resp
}

// FromView adds the timelock end once the recovery has triggered.
func FromView(view *service.View) *RecoveryResponse {
	resp := FromRecovery(view.Recovery)
	if !view.UnlockAt.IsZero() {
		at := view.UnlockAt
		resp.UnlockAt = &at
	}
	return resp
}

type CompleteResponse struct {
	RecoveryID string `json:"recovery_id"`
	Payload    []byte `json:"payload"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateRecoveryRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.service.CreateRecovery(ctx, service.CreateRecoveryCommand{
		WalletID: req.wallet,
		Keys:     req.keys,
		Payload:  req.Payload,
	})
	if err != nil {
		h.fail(ctx, w, "create recovery failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecovery(rec))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recoveryID, ok := h.recoveryID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetRecovery(ctx, recoveryID)
	if err != nil {
		h.fail(ctx, w, "get recovery failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

func (h *Handler) HandleAttest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recoveryID, ok := h.recoveryID(w, r)
	if !ok {
		return
	}
	view, err := h.service.AttestRecovery(ctx, recoveryID)
	if err != nil {
		h.fail(ctx, w, "recovery attestation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recoveryID, ok := h.recoveryID(w, r)
	if !ok {
		return
	}
	payload, err := h.service.CompleteRecovery(ctx, recoveryID)
	if err != nil {
		h.fail(ctx, w, "complete recovery failed", err)
		return
	}
	h.logger.InfoContext(ctx, "recovery completed",
		"request_id", requestcontext.RequestID(ctx),
		"recovery_id", recoveryID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, CompleteResponse{RecoveryID: recoveryID.String(), Payload: payload})
}

func (h *Handler) recoveryID(w http.ResponseWriter, r *http.Request) (id.RecoveryID, bool) {
	recoveryID, err := id.ParseRecoveryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RecoveryID{}, false
	}
	return recoveryID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(dErrors.CodeOf(err)),
		"error", err,
	)
	httputil.WriteError(w, err)
}
