package httptransport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	jwttoken "vigil/internal/jwt_token"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/platform/middleware/admin"
	"vigil/pkg/requestcontext"
	"vigil/pkg/testutil"
)

type echoHandler struct{}

func (echoHandler) Register(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"user_id":    requestcontext.UserID(ctx).String(),
			"roles":      requestcontext.Roles(ctx),
			"request_id": requestcontext.RequestID(ctx),
			"has_time":   !requestcontext.Now(ctx).IsZero(),
		})
	})
}

type opHandler struct{}

func (opHandler) Register(r chi.Router) {
	r.Post("/admin/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type RouterSuite struct {
	suite.Suite
	jwt    *jwttoken.JWTService
	router http.Handler
	health *Health
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.jwt = jwttoken.NewJWTService("router-test-key", "vigil", "vigil-api")
	s.health = NewHealth(nil)
	s.router = NewRouter(Deps{
		Logger:        slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Validator:     jwttoken.NewJWTServiceAdapter(s.jwt),
		OperatorToken: "op-secret",
		Handlers:      []Registrar{echoHandler{}},
		Operator:      []Registrar{opHandler{}},
		Health:        s.health,
	})
}

func (s *RouterSuite) bearer(roles ...string) (uuid.UUID, string) {
	userID := uuid.New()
	token, err := s.jwt.GenerateAccessToken(userID, roles, time.Hour)
	s.Require().NoError(err)
	return userID, "Bearer " + token
}

func (s *RouterSuite) TestLivenessNeedsNoToken() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	s.Equal(http.StatusOK, rr.Code)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
}

func (s *RouterSuite) TestAuthenticatedRoutes() {
	s.Run("missing token is 401", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/whoami"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("token populates caller context", func() {
		userID, header := s.bearer("Collector")
		req := testutil.NewRequest(s.T(), http.MethodGet, "/whoami")
		req.Header.Set("Authorization", header)
		req.Header.Set("X-Request-ID", "req-123")
		rr := testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(userID.String(), (*body)["user_id"])
		s.Equal([]any{"collector"}, (*body)["roles"])
		s.Equal("req-123", (*body)["request_id"])
		s.Equal(true, (*body)["has_time"])
	})
}

func (s *RouterSuite) TestOperatorRoutes() {
	s.Run("bearer token is not enough", func() {
		_, header := s.bearer("reviewer")
		req := testutil.NewRequest(s.T(), http.MethodPost, "/admin/ping")
		req.Header.Set("Authorization", header)
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("operator token passes", func() {
		req := testutil.NewRequest(s.T(), http.MethodPost, "/admin/ping")
		req.Header.Set(admin.HeaderOperatorToken, "op-secret")
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusNoContent, rr.Code)
	})
}

func (s *RouterSuite) TestReadiness() {
	s.health.Add("postgres", func(context.Context) error { return nil })
	s.health.Add("redis", func(context.Context) error { return errors.New("connection refused") })

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, testutil.NewRequest(s.T(), http.MethodGet, "/readyz"))
	s.Equal(http.StatusServiceUnavailable, rr.Code)

	body := testutil.UnmarshalResponse[readinessResponse](s.T(), rr)
	s.Equal("degraded", body.Status)
	s.Equal("ok", body.Dependencies["postgres"])
	s.Equal("connection refused", body.Dependencies["redis"])
}

func TestHealthAllUp(t *testing.T) {
	h := NewHealth(nil)
	h.Add("pebble", func(context.Context) error { return nil })
	results, ready := h.Check(context.Background())
	if !ready || results["pebble"] != nil {
		t.Fatalf("expected ready, got %v", results)
	}
}
