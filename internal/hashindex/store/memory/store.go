package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"scorer/internal/hashindex"
	"scorer/pkg/domain"
)

// InMemory is a mutex-guarded claim index with the same contract as the Postgres store.
type InMemory struct {
	mu    sync.RWMutex
	links map[domain.CommunityID]map[string]hashindex.Link
}

func New() *InMemory {
	return &InMemory{links: make(map[domain.CommunityID]map[string]hashindex.Link)}
}

func (s *InMemory) Lookup(_ context.Context, communityID domain.CommunityID, keys []string, now time.Time) (map[string]hashindex.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[string]hashindex.Owner)
	links := s.links[communityID]
	for _, key := range keys {
		if l, ok := links[key]; ok && l.LiveAt(now) {
			owners[key] = l.Owner()
		}
	}
	return owners, nil
}

func (s *InMemory) Claim(_ context.Context, communityID domain.CommunityID, key string, address domain.Address, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.community(communityID)
	if l, ok := links[key]; ok && l.LiveAt(now) {
		return hashindex.ErrAlreadyClaimed
	}
	links[key] = hashindex.Link{CommunityID: communityID, Key: key, Address: address, ExpiresAt: expiresAt}
	return nil
}

func (s *InMemory) Transfer(_ context.Context, communityID domain.CommunityID, key string, from, to domain.Address, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.community(communityID)
	if l, ok := links[key]; ok && l.LiveAt(now) && !l.Address.Equal(from) {
		return hashindex.ErrAlreadyClaimed
	}
	links[key] = hashindex.Link{CommunityID: communityID, Key: key, Address: to, ExpiresAt: expiresAt}
	return nil
}

func (s *InMemory) Release(_ context.Context, communityID domain.CommunityID, key string, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links[communityID]
	if l, ok := links[key]; ok && l.Address.Equal(address) {
		delete(links, key)
	}
	return nil
}

func (s *InMemory) ReleaseAddress(_ context.Context, communityID domain.CommunityID, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, l := range s.links[communityID] {
		if l.Address.Equal(address) {
			delete(s.links[communityID], key)
		}
	}
	return nil
}

// Links returns every stored entry of a community, including expired ones, sorted by key.
func (s *InMemory) Links(communityID domain.CommunityID) []hashindex.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hashindex.Link, 0, len(s.links[communityID]))
	for _, l := range s.links[communityID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *InMemory) community(communityID domain.CommunityID) map[string]hashindex.Link {
	links, ok := s.links[communityID]
	if !ok {
		links = make(map[string]hashindex.Link)
		s.links[communityID] = links
	}
	return links
}
