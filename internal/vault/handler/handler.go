package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil/internal/vault/models"
	"vigil/internal/vault/service"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// Service is the vault release authority as seen by HTTP.
type Service interface {
	CreateVault(ctx context.Context, cmd service.CreateVaultCommand) (*models.Vault, error)
	GetVault(ctx context.Context, vaultID id.VaultID) (*service.View, error)
	CheckIn(ctx context.Context, vaultID id.VaultID, channel models.CheckInChannel) (*models.Vault, error)
	AttestDeath(ctx context.Context, vaultID id.VaultID) (*models.Vault, error)
	VerifyDeath(ctx context.Context, vaultID id.VaultID, subject id.SubjectID) (*models.Vault, error)
	Claim(ctx context.Context, vaultID id.VaultID) (*models.ReleaseDirective, error)
	EmergencyRevoke(ctx context.Context, vaultID id.VaultID) (*models.Vault, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts vault endpoints. Routes expect an authenticated caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/vaults", h.HandleCreate)
	r.Get("/vaults/{id}", h.HandleGet)
	r.Post("/vaults/{id}/check-in", h.HandleCheckIn)
	r.Post("/vaults/{id}/attestations", h.HandleAttest)
	r.Post("/vaults/{id}/verification", h.HandleVerify)
	r.Post("/vaults/{id}/claim", h.HandleClaim)
	r.Post("/vaults/{id}/revoke", h.HandleRevoke)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateVaultRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	v, err := h.service.CreateVault(ctx, service.CreateVaultCommand{
		SubjectID:     req.subject,
		Beneficiaries: req.beneficiaries,
		Guardians:     req.guardians,
		MetadataURI:   req.MetadataURI,
		SecretDigest:  req.SecretDigest,
		Scheme:        req.Scheme,
		CheckInEvery:  req.interval,
		GracePeriod:   req.grace,
	})
	if err != nil {
		h.fail(ctx, w, "create vault failed", err)
		return
	}
	h.logger.InfoContext(ctx, "vault created",
		"request_id", requestID,
		"vault_id", v.ID.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromVault(v))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetVault(ctx, vaultID)
	if err != nil {
		h.fail(ctx, w, "get vault failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	channel := channelFromUserAgent(r.Header.Get("X-Client-Channel"), requestcontext.UserAgent(ctx))
	v, err := h.service.CheckIn(ctx, vaultID, channel)
	if err != nil {
		h.fail(ctx, w, "check-in failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVault(v))
}

func (h *Handler) HandleAttest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	v, err := h.service.AttestDeath(ctx, vaultID)
	if err != nil {
		h.fail(ctx, w, "attestation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVault(v))
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyDeathRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	v, err := h.service.VerifyDeath(ctx, vaultID, req.subject)
	if err != nil {
		h.fail(ctx, w, "death verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVault(v))
}

func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	directive, err := h.service.Claim(ctx, vaultID)
	if err != nil {
		h.fail(ctx, w, "claim failed", err)
		return
	}
	h.logger.InfoContext(ctx, "vault released",
		"request_id", requestcontext.RequestID(ctx),
		"vault_id", vaultID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromDirective(directive))
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	v, err := h.service.EmergencyRevoke(ctx, vaultID)
	if err != nil {
		h.fail(ctx, w, "emergency revoke failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVault(v))
}

func (h *Handler) vaultID(w http.ResponseWriter, r *http.Request) (id.VaultID, bool) {
	vaultID, err := id.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.VaultID{}, false
	}
	return vaultID, true
}

// fail logs at warn for caller mistakes and at error for internal faults.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"code", string(dErrors.CodeOf(err)),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
