package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
	audit "vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	userID := id.UserID(uuid.New())
	err := pub.Emit(context.Background(), audit.Event{
		UserID: userID,
		Action: string(audit.EventVaultCreated),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventVaultCreated), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	userID := id.UserID(uuid.New())
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			UserID: userID,
			Action: string(audit.EventVaultCheckedIn),
		})
		require.NoError(t, err)
	}

	require.NoError(t, pub.Close())

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_NeverBlocks(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventVaultCheckedIn)})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(4))
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventVaultCheckedIn)})
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestPublisher_Timestamps(t *testing.T) {
	t.Run("sets missing timestamp", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore())
		userID := id.UserID(uuid.New())

		before := time.Now()
		require.NoError(t, pub.Emit(context.Background(), audit.Event{UserID: userID, Action: string(audit.EventVaultClaimed)}))
		after := time.Now()

		events, err := pub.List(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Timestamp.Before(before))
		assert.False(t, events[0].Timestamp.After(after))
	})

	t.Run("preserves existing timestamp", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore())
		userID := id.UserID(uuid.New())
		custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, pub.Emit(context.Background(), audit.Event{UserID: userID, Action: string(audit.EventVaultClaimed), Timestamp: custom}))

		events, err := pub.List(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, custom, events[0].Timestamp)
	})
}

func TestPublisher_ListRecentNewestFirst(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	for _, action := range []audit.AuditEvent{audit.EventVaultCreated, audit.EventVaultCheckedIn, audit.EventVaultClaimed} {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(action)}))
	}

	events, err := pub.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventVaultClaimed), events[0].Action)
	assert.Equal(t, string(audit.EventVaultCheckedIn), events[1].Action)
}
