package testutil

import (
	"net/http"
	"time"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// WithCaller sets the caller and roles the auth middleware would have put
// on the request.
func WithCaller(req *http.Request, userID id.UserID, roles ...string) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRoles(ctx, roles...)
	return req.WithContext(ctx)
}

// At pins the request clock so time gates can be crossed without sleeping.
func At(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
