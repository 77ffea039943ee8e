package memory

import (
	"context"
	"sync"

	"github.com/agen-co/agenshield/internal/domain/graph"
)

// SecretStore implements graph.SecretStore with an in-memory map.
// Thread-safe for concurrent access.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

var _ graph.SecretStore = (*SecretStore)(nil)

// NewSecretStore creates an empty in-memory secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string]string)}
}

// Set stores a secret value under a name.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// Delete removes a secret.
func (s *SecretStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}

// GetByName returns the secret, or graph.ErrSecretNotFound.
func (s *SecretStore) GetByName(ctx context.Context, name string) (*graph.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.secrets[name]
	if !ok {
		return nil, graph.ErrSecretNotFound
	}
	return &graph.Secret{Name: name, Value: v}, nil
}
