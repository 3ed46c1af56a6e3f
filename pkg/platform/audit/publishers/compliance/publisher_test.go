package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
	audit "vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/store/memory"
	"vigil/pkg/requestcontext"
)

type failingStore struct{ memory.InMemoryStore }

func (f *failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }

func claimed(user id.UserID) audit.ComplianceEvent {
	return audit.ComplianceEvent{
		UserID:   user,
		Subject:  uuid.NewString(),
		Action:   string(audit.EventVaultClaimed),
		Decision: "released",
	}
}

func TestPublisher_Emit(t *testing.T) {
	t.Run("persists synchronously at the request time", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := New(store)
		userID := id.UserID(uuid.New())
		now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

		require.NoError(t, pub.Emit(requestcontext.WithTime(context.Background(), now), claimed(userID)))

		events, err := store.ListByUser(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.True(t, events[0].Timestamp.Equal(now))
	})

	t.Run("fails closed when the store fails", func(t *testing.T) {
		pub := New(&failingStore{}, WithMetrics(nil))
		err := pub.Emit(context.Background(), claimed(id.UserID(uuid.New())))
		require.ErrorContains(t, err, "disk full")
	})

	t.Run("reports every missing field", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(context.Background(), audit.ComplianceEvent{})
		require.Error(t, err)
		for _, field := range []string{"user id", "subject", "decision", "action"} {
			assert.ErrorContains(t, err, field)
		}
	})

	t.Run("refuses non-compliance actions", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		event := claimed(id.UserID(uuid.New()))
		event.Action = string(audit.EventVaultCheckedIn)
		require.ErrorContains(t, pub.Emit(context.Background(), event), "not a compliance event")
	})
}
