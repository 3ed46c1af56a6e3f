// Package requesttime pins one "now" per HTTP request so every timestamp a
// request produces (deadlines, attestations, audit records) agrees.
package requesttime

import (
	"net/http"
	"time"

	"vigil/pkg/requestcontext"
)

// Middleware pins the wall clock.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock pins clock() in UTC at microsecond precision, the resolution
// Postgres keeps, so a stored deadline compares equal to the one the request
// computed.
func WithClock(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := clock().UTC().Truncate(time.Microsecond)
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now)))
		})
	}
}
