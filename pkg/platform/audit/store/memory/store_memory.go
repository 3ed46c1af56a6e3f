// Package memory is the audit store used when no database is configured.
package memory

import (
	"context"
	"slices"
	"sync"

	id "vigil/pkg/domain"
	audit "vigil/pkg/platform/audit"
)

// InMemoryStore keeps events in append order with a per-user index. With a
// retention limit the oldest events are forgotten first.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    []audit.Event
	offset    int // sequence number of events[0]
	byUser    map[id.UserID][]int
	retention int
}

type Option func(*InMemoryStore)

// WithRetention bounds how many events are kept. Zero keeps everything.
func WithRetention(n int) Option {
	return func(s *InMemoryStore) { s.retention = max(n, 0) }
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{byUser: make(map[id.UserID][]int)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.offset = 0
	s.byUser = make(map[id.UserID][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.offset + len(s.events)
	s.events = append(s.events, event)
	if !event.UserID.IsNil() {
		if s.byUser == nil {
			s.byUser = make(map[id.UserID][]int)
		}
		s.byUser[event.UserID] = append(s.byUser[event.UserID], seq)
	}
	if s.retention > 0 && len(s.events) > s.retention {
		s.evict(len(s.events) - s.retention)
	}
	return nil
}

func (s *InMemoryStore) evict(n int) {
	for _, e := range s.events[:n] {
		if e.UserID.IsNil() {
			continue
		}
		seqs := s.byUser[e.UserID][1:]
		if len(seqs) == 0 {
			delete(s.byUser, e.UserID)
		} else {
			s.byUser[e.UserID] = seqs
		}
	}
	s.events = slices.Clone(s.events[n:])
	s.offset += n
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seqs := s.byUser[userID]
	if len(seqs) == 0 {
		return nil, nil
	}
	out := make([]audit.Event, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, s.events[seq-s.offset])
	}
	return out, nil
}

// ListRecent returns up to limit events, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out, nil
}

// ListByAction is a test helper.
func (s *InMemoryStore) ListByAction(action audit.AuditEvent) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}
