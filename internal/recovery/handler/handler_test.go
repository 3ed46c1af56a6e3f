package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/recovery/service"
	"vigil/internal/recovery/store"
	id "vigil/pkg/domain"
	"vigil/pkg/testutil"
)

func newRouter() http.Handler {
	svc := service.New(store.NewInMemory())
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Register(r)
	return r
}

func TestRecoveryHandlers(t *testing.T) {
	router := newRouter()
	owner := id.UserID(uuid.New())
	keys := []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New()), id.UserID(uuid.New())}

	req := testutil.NewJSONRequest(t, http.MethodPost, "/recoveries", map[string]any{
		"wallet_id": uuid.NewString(),
		"keys":      []string{keys[0].String(), keys[1].String(), keys[2].String()},
		"payload":   []byte("sealed"),
	})
	rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := testutil.UnmarshalResponse[RecoveryResponse](t, rr)
	assert.Equal(t, "pending", created.Status)

	for _, k := range keys[:2] {
		rr = testutil.DoRequest(router, testutil.WithCaller(testutil.NewRequest(t, http.MethodPost, "/recoveries/"+created.ID+"/attestations"), k))
		testutil.AssertStatusOK(t, rr)
	}
	attested := testutil.UnmarshalResponse[RecoveryResponse](t, rr)
	assert.Equal(t, "triggered", attested.Status)
	assert.NotNil(t, attested.UnlockAt)

	rr = testutil.DoRequest(router, testutil.WithCaller(testutil.NewRequest(t, http.MethodPost, "/recoveries/"+created.ID+"/complete"), keys[2]))
	testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "timelock_not_expired")

	rr = testutil.DoRequest(router, testutil.WithCaller(testutil.NewRequest(t, http.MethodPost, "/recoveries/"+created.ID+"/complete"), owner))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")

	complete := func() *http.Request {
		req := testutil.NewRequest(t, http.MethodPost, "/recoveries/"+created.ID+"/complete")
		return testutil.At(testutil.WithCaller(req, keys[2]), attested.UnlockAt.Add(time.Minute))
	}
	rr = testutil.DoRequest(router, complete())
	testutil.AssertStatusOK(t, rr)
	done := testutil.UnmarshalResponse[CompleteResponse](t, rr)
	assert.Equal(t, []byte("sealed"), done.Payload)

	rr = testutil.DoRequest(router, complete())
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "already_completed")
}

func TestCreateRecoveryValidation(t *testing.T) {
	router := newRouter()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/recoveries", map[string]any{
		"wallet_id": uuid.NewString(),
		"keys":      []string{uuid.NewString()},
		"payload":   []byte("sealed"),
	})
	rr := testutil.DoRequest(router, testutil.WithCaller(req, id.UserID(uuid.New())))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
