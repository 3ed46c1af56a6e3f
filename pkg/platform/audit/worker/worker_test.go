package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/store/memory"
)

// flakyStore fails the first n appends.
type flakyStore struct {
	*memory.InMemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) Append(ctx context.Context, e audit.Event) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.InMemoryStore.Append(ctx, e)
}

func drain(t *testing.T, store audit.Store, events ...audit.Event) *Worker {
	t.Helper()
	inbox := make(chan audit.Event, len(events))
	for _, e := range events {
		inbox <- e
	}
	close(inbox)
	w := NewWorker(store, inbox, nil, WithRetry(3, time.Millisecond))
	require.NoError(t, w.Run(context.Background()))
	return w
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 2}
	w := drain(t, store, audit.Event{Action: string(audit.EventVaultCheckedIn)})

	assert.Equal(t, int64(0), w.Lost())
	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.ListByAction(audit.EventVaultCheckedIn), 1)
}

func TestWorkerCountsLostEvents(t *testing.T) {
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 3}
	w := drain(t, store,
		audit.Event{Action: string(audit.EventVaultCheckedIn)},
		audit.Event{Action: string(audit.EventRecoveryCreated)},
	)

	assert.Equal(t, int64(1), w.Lost())
	assert.Empty(t, store.ListByAction(audit.EventVaultCheckedIn))
	assert.Len(t, store.ListByAction(audit.EventRecoveryCreated), 1)
}

func TestWorkerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWorker(memory.NewInMemoryStore(), make(chan audit.Event), nil)
	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
}
