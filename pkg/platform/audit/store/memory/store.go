package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"scorer/pkg/domain"
	audit "scorer/pkg/platform/audit"
	"scorer/pkg/platform/sentinel"
)

type streamKey struct {
	community domain.CommunityID
	address   domain.Address
}

// InMemoryStore keeps events per (community, address) in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[streamKey][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[streamKey][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamKey{event.CommunityID, event.Address}
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *InMemoryStore) LatestBefore(_ context.Context, action audit.Action, communityID domain.CommunityID, address domain.Address, t time.Time) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *audit.Event
	for _, e := range s.events[streamKey{communityID, address}] {
		if e.Action != action || e.CreatedAt.After(t) {
			continue
		}
		// >= keeps the later append on equal timestamps
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			ev := e
			latest = &ev
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return latest, nil
}

// List returns the stream for (community, address), oldest first.
func (s *InMemoryStore) List(_ context.Context, communityID domain.CommunityID, address domain.Address) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := append([]audit.Event{}, s.events[streamKey{communityID, address}]...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// ListByAction returns every event with action across all streams. Used by tests.
func (s *InMemoryStore) ListByAction(action audit.Action) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, stream := range s.events {
		for _, e := range stream {
			if e.Action == action {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[streamKey][]audit.Event)
}
