package store

import (
	"context"
	"sync"

	"scorer/internal/community/models"
	"scorer/pkg/domain"
	"scorer/pkg/platform/sentinel"
)

// InMemory is a map-backed community store.
type InMemory struct {
	mu          sync.RWMutex
	nextID      domain.CommunityID
	communities map[domain.CommunityID]*models.Community
}

func NewInMemory() *InMemory {
	return &InMemory{communities: make(map[domain.CommunityID]*models.Community)}
}

// Create assigns an ID and stores c.
func (s *InMemory) Create(_ context.Context, c *models.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	clone := *c
	s.communities[c.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.CommunityID) (*models.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communities[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

// Update replaces rule and scorer configuration.
func (s *InMemory) Update(_ context.Context, c *models.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.communities[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	clone := *c
	s.communities[c.ID] = &clone
	return nil
}
