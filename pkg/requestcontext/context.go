// Package requestcontext carries request-scoped values (caller, roles, client
// metadata, request id and the pinned request time) without depending on
// net/http, so services can read them directly.
//
//	caller := requestcontext.UserID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests set the same values with the With* helpers:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithRoles(ctx, "verifier")
package requestcontext

import (
	"context"
	"slices"
	"time"

	id "vigil/pkg/domain"
)

type key int

const (
	keyUserID key = iota
	keyRoles
	keyClientIP
	keyUserAgent
	keyRequestID
	keyRequestTime
)

// value returns the zero T when k is unset.
func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// UserID is the authenticated caller, or the nil id for anonymous requests.
func UserID(ctx context.Context) id.UserID {
	v, _ := value[id.UserID](ctx, keyUserID)
	return v
}

func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// Roles are the capability roles granted by the caller's token.
func Roles(ctx context.Context) []string {
	v, _ := value[[]string](ctx, keyRoles)
	return v
}

func WithRoles(ctx context.Context, roles ...string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(Roles(ctx), role)
}

func ClientIP(ctx context.Context) string {
	v, _ := value[string](ctx, keyClientIP)
	return v
}

// UserAgent feeds check-in channel detection.
func UserAgent(ctx context.Context) string {
	v, _ := value[string](ctx, keyUserAgent)
	return v
}

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, clientIP)
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

func RequestID(ctx context.Context) string {
	v, _ := value[string](ctx, keyRequestID)
	return v
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now is the time pinned for this request or batch. Paths that never pin one
// (startup, ad hoc tooling) get the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, keyRequestTime); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock for a request, a worker batch, or a test.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
