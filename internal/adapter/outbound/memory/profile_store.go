package memory

import (
	"context"
	"sync"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// ProfileStore implements policy.ProfileStore with an in-memory map.
// Thread-safe for concurrent access.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*policy.Profile
	order    []string
}

var _ policy.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates an empty in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*policy.Profile)}
}

// Save creates or updates a profile. Callers invalidate the token cache
// after any mutation.
func (s *ProfileStore) Save(p *policy.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	c := *p
	s.profiles[p.ID] = &c
}

// GetByType returns all profiles of the given type in insertion order.
func (s *ProfileStore) GetByType(ctx context.Context, profileType string) ([]policy.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []policy.Profile
	for _, id := range s.order {
		if p := s.profiles[id]; p.Type == profileType {
			out = append(out, *p)
		}
	}
	return out, nil
}
