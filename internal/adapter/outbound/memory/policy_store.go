// Package memory provides in-memory store implementations. They are the
// default when no storage path is configured and the substrate for tests.
package memory

import (
	"context"
	"sync"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map. Insertion
// order is preserved because it is the tie-breaker for equal priorities.
// Thread-safe for concurrent access.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*policy.Policy // ID -> Policy
	order    []string
}

var _ policy.Store = (*PolicyStore)(nil)

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*policy.Policy)}
}

// GetEnabled returns the enabled union of global policies and policies
// scoped to profileID, in insertion order.
func (s *PolicyStore) GetEnabled(ctx context.Context, profileID string) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []policy.Policy
	for _, id := range s.order {
		p := s.policies[id]
		if !p.Enabled {
			continue
		}
		if p.ProfileID == "" || p.ProfileID == profileID {
			result = append(result, *copyPolicy(p))
		}
	}
	return result, nil
}

// Save creates or updates a policy. A new id appends to insertion order;
// an update keeps the policy's original position.
func (s *PolicyStore) Save(ctx context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// Delete removes a policy by id.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// copyPolicy deep-copies a policy so callers cannot mutate stored state.
func copyPolicy(p *policy.Policy) *policy.Policy {
	c := *p
	c.Patterns = append([]string(nil), p.Patterns...)
	c.Operations = append([]policy.Operation(nil), p.Operations...)
	return &c
}
