package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireOperatorToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		expected string
		header   string
		want     int
	}{
		{"matching token", "op-secret", "op-secret", http.StatusNoContent},
		{"surrounding space tolerated", "op-secret", " op-secret ", http.StatusNoContent},
		{"wrong token", "op-secret", "guess", http.StatusUnauthorized},
		{"missing token", "op-secret", "", http.StatusUnauthorized},
		{"unconfigured locks everyone out", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/run", nil)
			if tt.header != "" {
				req.Header.Set(HeaderOperatorToken, tt.header)
			}
			rr := httptest.NewRecorder()
			RequireOperatorToken(tt.expected, slog.Default())(ok).ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized","error_description":"operator token required"}`, rr.Body.String())
			}
		})
	}
}
