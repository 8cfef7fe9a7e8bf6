package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"scorer/internal/passport/models"
	"scorer/pkg/domain"
	"scorer/pkg/platform/sentinel"
	pstrings "scorer/pkg/platform/strings"
)

type passportKey struct {
	community domain.CommunityID
	address   domain.Address
}

// Store keeps passports, their stamps and scores in memory.
type Store struct {
	mu          sync.RWMutex
	nextID      domain.PassportID
	nextStampID int64
	passports   map[domain.PassportID]*models.Passport
	byKey       map[passportKey]domain.PassportID
	stamps      map[domain.PassportID]map[string]*models.Stamp
	scores      map[domain.PassportID]*models.Score
}

func New() *Store {
	return &Store{
		passports: make(map[domain.PassportID]*models.Passport),
		byKey:     make(map[passportKey]domain.PassportID),
		stamps:    make(map[domain.PassportID]map[string]*models.Stamp),
		scores:    make(map[domain.PassportID]*models.Score),
	}
}

func (s *Store) GetOrCreatePassport(_ context.Context, communityID domain.CommunityID, address domain.Address, now time.Time) (*models.Passport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[passportKey{communityID, address}]; ok {
		p := *s.passports[id]
		return &p, nil
	}
	s.nextID++
	p := &models.Passport{ID: s.nextID, CommunityID: communityID, Address: address, CreatedAt: now}
	s.passports[p.ID] = p
	s.byKey[passportKey{communityID, address}] = p.ID
	clone := *p
	return &clone, nil
}

func (s *Store) FindPassport(_ context.Context, communityID domain.CommunityID, address domain.Address) (*models.Passport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[passportKey{communityID, address}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p := *s.passports[id]
	return &p, nil
}

func (s *Store) SetRequiresCalculation(_ context.Context, id domain.PassportID, requires bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.passports[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.RequiresCalculation = requires
	return nil
}

// DeletePassport removes the passport with its stamps and score.
func (s *Store) DeletePassport(_ context.Context, id domain.PassportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.passports[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byKey, passportKey{p.CommunityID, p.Address})
	delete(s.passports, id)
	delete(s.stamps, id)
	delete(s.scores, id)
	return nil
}

func (s *Store) ListStamps(_ context.Context, passportID domain.PassportID) ([]*models.Stamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Stamp, 0, len(s.stamps[passportID]))
	for _, st := range s.stamps[passportID] {
		clone := *st
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertStamp inserts the stamp, or replaces the stored one with the same hash when the new
// expiration is later. It reports whether anything was written.
func (s *Store) UpsertStamp(_ context.Context, stamp *models.Stamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.passports[stamp.PassportID]; !ok {
		return false, sentinel.ErrNotFound
	}
	byHash, ok := s.stamps[stamp.PassportID]
	if !ok {
		byHash = make(map[string]*models.Stamp)
		s.stamps[stamp.PassportID] = byHash
	}

	if existing, ok := byHash[stamp.Hash]; ok {
		if !stamp.ExpiresAt.After(existing.ExpiresAt) {
			return false, nil
		}
		updated := *stamp
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		byHash[stamp.Hash] = &updated
		stamp.ID = existing.ID
		return true, nil
	}

	s.nextStampID++
	stamp.ID = s.nextStampID
	clone := *stamp
	byHash[stamp.Hash] = &clone
	return true, nil
}

// DeleteStamps removes the passport's stamps stored under hashes.
func (s *Store) DeleteStamps(_ context.Context, passportID domain.PassportID, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range hashes {
		delete(s.stamps[passportID], h)
	}
	return nil
}

// FindStampsByClaimKeys returns stamps in the community, on passports other than exclude,
// whose stored hash or nullifiers intersect keys.
func (s *Store) FindStampsByClaimKeys(_ context.Context, communityID domain.CommunityID, keys []string, exclude domain.PassportID) ([]*models.Stamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := pstrings.Set(keys...)
	var out []*models.Stamp
	for passportID, byHash := range s.stamps {
		p := s.passports[passportID]
		if passportID == exclude || p == nil || p.CommunityID != communityID {
			continue
		}
		for _, st := range byHash {
			_, hashMatch := wanted[st.Hash]
			if hashMatch || len(pstrings.Overlap(st.ClaimKeys(), wanted)) > 0 {
				clone := *st
				out = append(out, &clone)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindPassportByID(_ context.Context, id domain.PassportID) (*models.Passport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.passports[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *Store) GetScore(_ context.Context, passportID domain.PassportID) (*models.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score, ok := s.scores[passportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneScore(score), nil
}

func (s *Store) SaveScore(_ context.Context, score *models.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.passports[score.PassportID]; !ok {
		return sentinel.ErrNotFound
	}
	s.scores[score.PassportID] = cloneScore(score)
	return nil
}

func cloneScore(score *models.Score) *models.Score {
	clone := *score
	if score.StampScores != nil {
		clone.StampScores = make(map[string]models.StampScore, len(score.StampScores))
		for k, v := range score.StampScores {
			clone.StampScores[k] = v
		}
	}
	if score.Evidence != nil {
		ev := *score.Evidence
		clone.Evidence = &ev
	}
	return &clone
}
