package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil/internal/consensus/models"
	"vigil/internal/consensus/service"
	"vigil/internal/consensus/sources"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

type Service interface {
	Ingest(ctx context.Context, cmd service.IngestCommand) (*service.IngestResult, error)
	Resolve(ctx context.Context, cmd service.ResolveCommand) (*models.Event, error)
	State(ctx context.Context, subject id.SubjectID) (*models.State, error)
	Evaluate(ctx context.Context, subject id.SubjectID) (*service.Evaluation, error)
}

type Handler struct {
	service      Service
	obituaries   *sources.ObituaryMatcher
	certificates *sources.CertificateWebhook
	logger       *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:      svc,
		obituaries:   sources.NewObituaryMatcher(svc, logger),
		certificates: sources.NewCertificateWebhook(svc),
		logger:       logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/consensus/events", h.HandleIngest)
	r.Post("/consensus/certificates", h.HandleCertificate)
	r.Post("/consensus/obituaries", h.HandleObituary)
	r.Post("/consensus/events/{id}/resolution", h.HandleResolve)
	r.Get("/consensus/subjects/{id}", h.HandleState)
	r.Post("/consensus/subjects/{id}/evaluate", h.HandleEvaluate)
}

func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "ingest", id.RoleCollector) {
		return
	}
	req, ok := httputil.DecodeAndPrepare[EventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Ingest(ctx, service.IngestCommand{
		SubjectID:  req.subject,
		Source:     req.source,
		Confidence: *req.Confidence,
		Status:     req.status,
		Reference:  req.Reference,
		Evidence:   req.Evidence,
		ObservedAt: timeOrZero(req.ObservedAt),
	})
	if err != nil {
		h.fail(ctx, w, "ingest verification event failed", err)
		return
	}
	httputil.WriteJSON(w, ingestStatus(res), FromIngest(res))
}

func (h *Handler) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "certificate", id.RoleCollector) {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CertificateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.certificates.Deliver(ctx, sources.CertificateDelivery{
		SubjectID:     req.subject,
		CertificateID: req.CertificateID,
		Jurisdiction:  req.Jurisdiction,
		Verified:      req.Verified,
		IssuedAt:      timeOrZero(req.IssuedAt),
		Document:      req.Document,
	})
	if err != nil {
		h.fail(ctx, w, "certificate delivery failed", err)
		return
	}
	httputil.WriteJSON(w, ingestStatus(res), FromIngest(res))
}

type ObituaryResponse struct {
	Matched    bool            `json:"matched"`
	Confidence float64         `json:"confidence"`
	Event      *IngestResponse `json:"event,omitempty"`
}

func (h *Handler) HandleObituary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "obituary", id.RoleCollector) {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ObituaryRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.obituaries.Match(ctx, sources.ObituaryNotice{
		SubjectID:    req.subject,
		SubjectName:  req.SubjectName,
		DeceasedName: req.DeceasedName,
		Reference:    req.Reference,
		PublishedAt:  timeOrZero(req.PublishedAt),
		Excerpt:      req.Excerpt,
	})
	if err != nil {
		h.fail(ctx, w, "obituary match failed", err)
		return
	}
	resp := ObituaryResponse{Confidence: sources.ObituaryConfidence(req.SubjectName, req.DeceasedName)}
	if res == nil {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	resp.Matched = true
	resp.Event = FromIngest(res)
	httputil.WriteJSON(w, ingestStatus(res), resp)
}

func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "resolve", id.RoleReviewer) {
		return
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResolutionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	event, err := h.service.Resolve(ctx, service.ResolveCommand{EventID: eventID, Outcome: req.outcome})
	if err != nil {
		h.fail(ctx, w, "resolve verification event failed", err)
		return
	}
	h.logger.InfoContext(ctx, "verification event resolved",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID.String(),
		"outcome", req.outcome.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromEvent(event))
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "state", id.RoleCollector, id.RoleReviewer, id.RoleVerifier) {
		return
	}
	subject, ok := h.subjectID(w, r)
	if !ok {
		return
	}
	st, err := h.service.State(ctx, subject)
	if err != nil {
		h.fail(ctx, w, "get consensus state failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromState(st))
}

func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r, "evaluate", id.RoleReviewer) {
		return
	}
	subject, ok := h.subjectID(w, r)
	if !ok {
		return
	}
	eval, err := h.service.Evaluate(ctx, subject)
	if err != nil {
		h.fail(ctx, w, "evaluate subject failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvaluation(eval))
}

// authorize requires any of roles on the caller.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op string, roles ...string) bool {
	ctx := r.Context()
	for _, role := range roles {
		if requestcontext.HasRole(ctx, role) {
			return true
		}
	}
	h.fail(ctx, w, "consensus "+op+" forbidden", dErrors.New(dErrors.CodeForbidden, "caller lacks the required role"))
	return false
}

func (h *Handler) subjectID(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	subject, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SubjectID{}, false
	}
	return subject, true
}

func ingestStatus(res *service.IngestResult) int {
	if res.Appended {
		return http.StatusCreated
	}
	return http.StatusOK
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
