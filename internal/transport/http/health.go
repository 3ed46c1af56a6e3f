package httptransport

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/platform/metrics"
	"vigil/pkg/platform/httputil"
)

// CheckFunc probes one backing dependency.
type CheckFunc func(ctx context.Context) error

// Health answers readiness probes by checking every registered dependency
// in parallel.
type Health struct {
	checks  map[string]CheckFunc
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewHealth(m *metrics.Metrics) *Health {
	return &Health{checks: make(map[string]CheckFunc), metrics: m, timeout: 2 * time.Second}
}

// Add registers a named check. Not safe once the server is running.
func (h *Health) Add(name string, check CheckFunc) {
	h.checks[name] = check
}

type readinessResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Check runs every probe and reports per-dependency results.
func (h *Health) Check(ctx context.Context) (map[string]error, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			errs[i] = h.checks[name](ctx)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]error, len(names))
	ready := true
	for i, name := range names {
		results[name] = errs[i]
		h.metrics.SetDependencyUp(name, errs[i] == nil)
		if errs[i] != nil {
			ready = false
		}
	}
	return results, ready
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results, ready := h.Check(r.Context())
	resp := readinessResponse{Status: "ok", Dependencies: make(map[string]string, len(results))}
	for name, err := range results {
		if err != nil {
			resp.Dependencies[name] = err.Error()
			continue
		}
		resp.Dependencies[name] = "ok"
	}
	status := http.StatusOK
	if !ready {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
