package security

import (
	"sync"

	audit "vigil/pkg/platform/audit"
)

func severityRank(s audit.Severity) int {
	switch s {
	case audit.SeverityCritical:
		return 2
	case audit.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Backlog queues security events between flushes. When full it evicts the
// oldest event of the lowest severity present, so an escalation is never
// lost to routine denials. An incoming event less severe than everything
// queued is itself discarded.
type Backlog struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	limit   int
	dropped int64
}

func NewBacklog(limit int) *Backlog {
	if limit <= 0 {
		limit = 10000
	}
	return &Backlog{events: make([]audit.SecurityEvent, 0, limit), limit: limit}
}

func (b *Backlog) Push(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) < b.limit {
		b.events = append(b.events, event)
		return
	}
	b.dropped++
	victim, lowest := -1, severityRank(event.Severity)+1
	for i, queued := range b.events {
		if r := severityRank(queued.Severity); r < lowest {
			victim, lowest = i, r
		}
	}
	if victim < 0 {
		return
	}
	b.events = append(b.events[:victim], b.events[victim+1:]...)
	b.events = append(b.events, event)
}

// Take removes up to n events in arrival order.
func (b *Backlog) Take(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}
	n = min(n, len(b.events))
	out := make([]audit.SecurityEvent, n)
	copy(out, b.events[:n])
	b.events = append(b.events[:0], b.events[n:]...)
	return out
}

func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Dropped counts events lost to a full backlog, evicted or refused.
func (b *Backlog) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
