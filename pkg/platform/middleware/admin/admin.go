// Package admin guards operator-only endpoints (evidence ingest, batch runs)
// with a shared operator token.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"vigil/pkg/requestcontext"
)

const HeaderOperatorToken = "X-Operator-Token"

// RequireOperatorToken rejects requests whose operator token does not match
// expected. An empty expected token locks the routes entirely.
func RequireOperatorToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(HeaderOperatorToken))
			if len(want) > 0 && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			reason := "mismatch"
			switch {
			case len(want) == 0:
				reason = "not_configured"
			case got == "":
				reason = "missing"
			}
			logger.WarnContext(ctx, "operator request rejected",
				"reason", reason,
				"path", r.URL.Path,
				"client_ip", requestcontext.ClientIP(ctx),
				"request_id", requestcontext.RequestID(ctx),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "unauthorized",
				"error_description": "operator token required",
			})
		})
	}
}
