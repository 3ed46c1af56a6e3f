package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vigil/internal/platform/metrics"
	"vigil/pkg/platform/middleware/admin"
	"vigil/pkg/platform/middleware/auth"
	"vigil/pkg/platform/middleware/metadata"
	"vigil/pkg/platform/middleware/request"
	"vigil/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by every bounded-context handler.
type Registrar interface {
	Register(r chi.Router)
}

// Deps collects what the router mounts. Nil registrars are skipped.
type Deps struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Validator     auth.JWTValidator
	OperatorToken string
	Timeout       time.Duration

	// Authenticated routes. Role checks happen inside each handler.
	Handlers []Registrar
	// Operator routes, guarded by the shared operator token instead of JWTs.
	Operator []Registrar
	Health   *Health
}

// NewRouter wires the public API. Liveness, readiness and metrics stay outside
// authentication so probes and scrapers need no credentials.
func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(metrics.Latency(d.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if d.Health != nil {
		r.Get("/readyz", d.Health.ServeHTTP)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(d.Timeout))
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		for _, h := range d.Handlers {
			if h != nil {
				h.Register(r)
			}
		}
	})

	if len(d.Operator) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireOperatorToken(d.OperatorToken, d.Logger))
			for _, h := range d.Operator {
				if h != nil {
					h.Register(r)
				}
			}
		})
	}
	return r
}
