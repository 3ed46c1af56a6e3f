package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vigil/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) { return v.claims, v.err }

type AuthMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AuthMiddlewareSuite) serve(v JWTValidator, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	RequireAuth(v, s.logger)(next).ServeHTTP(w, r)
	return w
}

func (s *AuthMiddlewareSuite) TestRequireAuth() {
	userID := uuid.New()

	s.Run("missing header is rejected", func() {
		w := s.serve(stubValidator{}, "", func(http.ResponseWriter, *http.Request) { s.Fail("handler called") })
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("invalid token is rejected", func() {
		w := s.serve(stubValidator{err: errors.New("bad sig")}, "Bearer x", func(http.ResponseWriter, *http.Request) { s.Fail("handler called") })
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("non-uuid subject is rejected", func() {
		w := s.serve(stubValidator{claims: &JWTClaims{UserID: "alice"}}, "Bearer x", func(http.ResponseWriter, *http.Request) { s.Fail("handler called") })
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("valid token populates caller and roles", func() {
		var called bool
		w := s.serve(stubValidator{claims: &JWTClaims{UserID: userID.String(), Roles: []string{"verifier"}}}, "Bearer x",
			func(_ http.ResponseWriter, r *http.Request) {
				called = true
				s.Equal(userID.String(), requestcontext.UserID(r.Context()).String())
				s.True(requestcontext.HasRole(r.Context(), "verifier"))
			})
		s.Equal(http.StatusOK, w.Code)
		s.True(called)
	})
}

func (s *AuthMiddlewareSuite) TestRequireRole() {
	h := RequireRole("verifier", s.logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	s.Run("caller without role is forbidden", func() {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("caller with role passes", func() {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r = r.WithContext(requestcontext.WithRoles(r.Context(), "verifier"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		s.Equal(http.StatusNoContent, w.Code)
	})
}
