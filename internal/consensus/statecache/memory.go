// Package statecache holds the derived consensus state per subject. The
// cache is disposable: a miss is answered by rebuilding from the event log.
package statecache

import (
	"context"
	"fmt"
	"sync"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

type InMemoryCache struct {
	mu     sync.RWMutex
	states map[id.SubjectID]*models.State
}

func NewInMemory() *InMemoryCache {
	return &InMemoryCache{states: make(map[id.SubjectID]*models.State)}
}

func (c *InMemoryCache) Get(_ context.Context, subject id.SubjectID) (*models.State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[subject]
	if !ok {
		return nil, fmt.Errorf("state %s: %w", subject, sentinel.ErrNotFound)
	}
	return st.Clone(), nil
}

func (c *InMemoryCache) Put(_ context.Context, st *models.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[st.SubjectID] = st.Clone()
	return nil
}

// Invalidate drops a subject so the next read rebuilds it.
func (c *InMemoryCache) Invalidate(_ context.Context, subject id.SubjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, subject)
	return nil
}
