package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil/internal/consensus/service"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// BatchRunner runs one evaluation pass on demand.
type BatchRunner interface {
	RunOnce(ctx context.Context) service.BatchReport
}

// Recoverer re-enqueues every subject held in the event log.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Operator serves the operator-only consensus endpoints. Mount it behind the
// operator token middleware.
type Operator struct {
	runner    BatchRunner
	recoverer Recoverer
	logger    *slog.Logger
}

func NewOperator(runner BatchRunner, recoverer Recoverer, logger *slog.Logger) *Operator {
	return &Operator{runner: runner, recoverer: recoverer, logger: logger}
}

func (o *Operator) Register(r chi.Router) {
	r.Post("/admin/consensus/run", o.HandleRun)
	r.Post("/admin/consensus/recover", o.HandleRecover)
}

type BatchReportResponse struct {
	Processed int `json:"processed"`
	Applied   int `json:"applied"`
	Stale     int `json:"stale"`
	Waiting   int `json:"waiting"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

type RecoverResponse struct {
	Enqueued int `json:"enqueued"`
}

func (o *Operator) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := o.runner.RunOnce(ctx)
	o.logger.InfoContext(ctx, "operator triggered consensus batch",
		"request_id", requestcontext.RequestID(ctx),
		"processed", report.Processed,
		"failed", report.Failed,
	)
	httputil.WriteJSON(w, http.StatusOK, BatchReportResponse{
		Processed: report.Processed,
		Applied:   report.Applied,
		Stale:     report.Stale,
		Waiting:   report.Waiting,
		Failed:    report.Failed,
		Escalated: report.Escalated,
	})
}

func (o *Operator) HandleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := o.recoverer.Recover(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "consensus recovery failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RecoverResponse{Enqueued: n})
}
