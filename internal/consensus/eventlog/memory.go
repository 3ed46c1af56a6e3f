// Package eventlog stores the append-only death verification log. Entries
// are keyed by (subject, source, fingerprint); a second append of the same
// observation is a no-op.
package eventlog

import (
	"context"
	"fmt"
	"sync"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

type dedupeKey struct {
	subject     id.SubjectID
	source      id.EvidenceSource
	fingerprint models.Fingerprint
}

// InMemoryLog keeps the log in process memory.
type InMemoryLog struct {
	mu        sync.RWMutex
	seq       uint64
	byID      map[id.EventID]*models.Event
	byKey     map[dedupeKey]id.EventID
	bySubject map[id.SubjectID][]*models.Event
	subjects  []id.SubjectID
}

func NewInMemory() *InMemoryLog {
	return &InMemoryLog{
		byID:      make(map[id.EventID]*models.Event),
		byKey:     make(map[dedupeKey]id.EventID),
		bySubject: make(map[id.SubjectID][]*models.Event),
	}
}

// Append stores e and assigns its sequence number. It returns false, and
// leaves e untouched, when the observation is already in the log.
func (l *InMemoryLog) Append(_ context.Context, e *models.Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := dedupeKey{subject: e.SubjectID, source: e.Source, fingerprint: e.Fingerprint}
	if _, exists := l.byKey[key]; exists {
		return false, nil
	}
	if _, exists := l.byID[e.ID]; exists {
		return false, fmt.Errorf("event %s: %w", e.ID, sentinel.ErrConflict)
	}
	l.seq++
	e.Seq = l.seq
	stored := e.Clone()
	l.byKey[key] = e.ID
	l.byID[e.ID] = stored
	if _, known := l.bySubject[e.SubjectID]; !known {
		l.subjects = append(l.subjects, e.SubjectID)
	}
	l.bySubject[e.SubjectID] = append(l.bySubject[e.SubjectID], stored)
	return true, nil
}

func (l *InMemoryLog) Get(_ context.Context, eventID id.EventID) (*models.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

// ListBySubject returns the subject's events in append order.
func (l *InMemoryLog) ListBySubject(_ context.Context, subject id.SubjectID) ([]*models.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.bySubject[subject]
	out := make([]*models.Event, 0, len(events))
	for _, e := range events {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Subjects returns every subject with at least one event, ordered by first
// appearance.
func (l *InMemoryLog) Subjects(_ context.Context) ([]id.SubjectID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]id.SubjectID(nil), l.subjects...), nil
}
