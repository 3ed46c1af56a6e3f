package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/publisher"
	"vigil/pkg/platform/audit/store/memory"
	"vigil/pkg/testutil"
)

type failingTrail struct{}

func (failingTrail) Emit(context.Context, audit.Event) error { return nil }
func (failingTrail) List(context.Context, id.UserID) ([]audit.Event, error) {
	return nil, errors.New("store down")
}

func newAuditRouter(trail AuditTrail) chi.Router {
	r := chi.NewRouter()
	NewAuditHandler(trail, slog.Default()).Register(r)
	return r
}

func TestAuditHandlerListsOwnEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	trail := publisher.NewPublisher(store)
	owner := id.UserID(uuid.New())
	other := id.UserID(uuid.New())
	ctx := context.Background()

	require.NoError(t, trail.Emit(ctx, audit.Event{UserID: owner, Action: string(audit.EventVaultCreated), Subject: "vault-1"}))
	require.NoError(t, trail.Emit(ctx, audit.Event{UserID: other, Action: string(audit.EventVaultCreated), Subject: "vault-2"}))

	req := testutil.WithCaller(testutil.NewRequest(t, http.MethodGet, "/audit/events"), owner)
	rr := testutil.DoRequest(newAuditRouter(trail), req)

	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[AuditListResponse](t, rr)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "vault-1", resp.Events[0].Subject)
	assert.Equal(t, string(audit.CategoryCompliance), resp.Events[0].Category)

	// The listing itself is recorded against the caller.
	events, err := store.ListByUser(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Len(t, store.ListByAction(audit.EventAuditTrailViewed), 1)
}

func TestAuditHandlerAsyncTrailDrains(t *testing.T) {
	store := memory.NewInMemoryStore()
	trail := publisher.NewPublisher(store, publisher.WithAsyncBuffer(8))
	owner := id.UserID(uuid.New())

	req := testutil.WithCaller(testutil.NewRequest(t, http.MethodGet, "/audit/events"), owner)
	rr := testutil.DoRequest(newAuditRouter(trail), req)
	testutil.AssertStatusOK(t, rr)

	require.Eventually(t, func() bool {
		return len(store.ListByAction(audit.EventAuditTrailViewed)) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, trail.Close())
}

func TestAuditHandlerErrors(t *testing.T) {
	t.Run("anonymous caller", func(t *testing.T) {
		rr := testutil.DoRequest(newAuditRouter(publisher.NewPublisher(memory.NewInMemoryStore())),
			testutil.NewRequest(t, http.MethodGet, "/audit/events"))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})

	t.Run("store failure", func(t *testing.T) {
		req := testutil.WithCaller(testutil.NewRequest(t, http.MethodGet, "/audit/events"), id.UserID(uuid.New()))
		rr := testutil.DoRequest(newAuditRouter(failingTrail{}), req)
		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
	})
}
