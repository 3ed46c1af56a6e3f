package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/store/memory"
)

func TestBacklog_ShedsLeastSevere(t *testing.T) {
	t.Run("oldest routine event goes first", func(t *testing.T) {
		b := NewBacklog(2)
		b.Push(audit.SecurityEvent{Action: "a", Severity: audit.SeverityInfo})
		b.Push(audit.SecurityEvent{Action: "b", Severity: audit.SeverityInfo})
		b.Push(audit.SecurityEvent{Action: "c", Severity: audit.SeverityInfo})

		assert.Equal(t, 2, b.Len())
		assert.Equal(t, int64(1), b.Dropped())
		batch := b.Take(10)
		require.Len(t, batch, 2)
		assert.Equal(t, "b", batch[0].Action)
		assert.Equal(t, "c", batch[1].Action)
		assert.Nil(t, b.Take(1))
	})

	t.Run("escalation survives a flood of denials", func(t *testing.T) {
		b := NewBacklog(2)
		b.Push(audit.SecurityEvent{Action: "escalated", Severity: audit.SeverityCritical})
		b.Push(audit.SecurityEvent{Action: "denied-1", Severity: audit.SeverityWarning})
		b.Push(audit.SecurityEvent{Action: "denied-2", Severity: audit.SeverityWarning})

		batch := b.Take(10)
		require.Len(t, batch, 2)
		assert.Equal(t, "escalated", batch[0].Action)
		assert.Equal(t, "denied-2", batch[1].Action)
	})

	t.Run("less severe incoming event is refused", func(t *testing.T) {
		b := NewBacklog(1)
		b.Push(audit.SecurityEvent{Action: "escalated", Severity: audit.SeverityCritical})
		b.Push(audit.SecurityEvent{Action: "noise", Severity: audit.SeverityInfo})

		assert.Equal(t, int64(1), b.Dropped())
		batch := b.Take(10)
		require.Len(t, batch, 1)
		assert.Equal(t, "escalated", batch[0].Action)
	})
}

func TestPublisher_FlushesOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 16, WithFlushInterval(time.Hour))

	for range 5 {
		pub.Emit(context.Background(), audit.SecurityEvent{
			Action:   string(audit.EventConsensusEscalated),
			Severity: audit.SeverityCritical,
		})
	}
	require.NoError(t, pub.Close())

	events := store.ListByAction(audit.EventConsensusEscalated)
	require.Len(t, events, 5)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}

func TestPublisher_DefaultsSeverity(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 4)
	pub.Emit(context.Background(), audit.SecurityEvent{Action: string(audit.EventClaimDenied)})
	require.NoError(t, pub.Close())

	events := store.ListByAction(audit.EventClaimDenied)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
}
