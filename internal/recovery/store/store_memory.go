package store

import (
	"context"
	"fmt"
	"sync"

	"vigil/internal/recovery/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// InMemoryStore keeps recoveries in memory. Execute mutates a clone and
// commits it only when validate succeeds.
type InMemoryStore struct {
	mu         sync.Mutex
	recoveries map[id.RecoveryID]*models.Recovery
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{recoveries: make(map[id.RecoveryID]*models.Recovery)}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Recovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recoveries[r.ID]; exists {
		return fmt.Errorf("recovery %s: %w", r.ID, sentinel.ErrConflict)
	}
	s.recoveries[r.ID] = r.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, recoveryID id.RecoveryID) (*models.Recovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recoveries[recoveryID]
	if !ok {
		return nil, fmt.Errorf("recovery %s: %w", recoveryID, sentinel.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) Execute(_ context.Context, recoveryID id.RecoveryID, validate func(*models.Recovery) error, mutate func(*models.Recovery)) (*models.Recovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.recoveries[recoveryID]
	if !ok {
		return nil, fmt.Errorf("recovery %s: %w", recoveryID, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.recoveries[recoveryID] = working
	return working.Clone(), nil
}
