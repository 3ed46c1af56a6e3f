package store

import (
	"context"
	"fmt"
	"sync"

	"vigil/internal/vault/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// InMemoryStore keeps vaults in memory. Execute works on a clone and only
// commits it when validate succeeds, so a rejected call leaves no trace.
type InMemoryStore struct {
	mu     sync.RWMutex
	vaults map[id.VaultID]*models.Vault
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{vaults: make(map[id.VaultID]*models.Vault)}
}

func (s *InMemoryStore) Create(_ context.Context, vault *models.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vaults[vault.ID]; exists {
		return fmt.Errorf("vault %s: %w", vault.ID, sentinel.ErrConflict)
	}
	s.vaults[vault.ID] = vault.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, vaultID id.VaultID) (*models.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", vaultID, sentinel.ErrNotFound)
	}
	return v.Clone(), nil
}

func (s *InMemoryStore) FindBySubject(_ context.Context, subjectID id.SubjectID) ([]*models.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vault
	for _, v := range s.vaults {
		if v.SubjectID == subjectID {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, vaultID id.VaultID, validate func(*models.Vault) error, mutate func(*models.Vault)) (*models.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.vaults[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", vaultID, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.vaults[vaultID] = working
	return working.Clone(), nil
}
