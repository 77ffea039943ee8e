package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alexedwards/argon2id"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// mockProfileStore implements policy.ProfileStore for testing.
type mockProfileStore struct {
	mu       sync.Mutex
	profiles []policy.Profile
	calls    int
	err      error
}

func (m *mockProfileStore) GetByType(_ context.Context, profileType string) ([]policy.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []policy.Profile
	for _, p := range m.profiles {
		if p.Type == profileType {
			out = append(out, p)
		}
	}
	return out, nil
}

func targetProfile(t *testing.T, id, token string) policy.Profile {
	t.Helper()
	hash, err := argon2id.CreateHash(token, argon2id.DefaultParams)
	if err != nil {
		t.Fatal(err)
	}
	return policy.Profile{
		ID:          id,
		Type:        targetProfileType,
		TokenDigest: BrokerTokenDigest(token),
		TokenHash:   hash,
	}
}

func TestTokenCacheResolve(t *testing.T) {
	store := &mockProfileStore{profiles: []policy.Profile{
		targetProfile(t, "prof1", "tok-alpha"),
		targetProfile(t, "prof2", "tok-beta"),
	}}
	cache := NewTokenCache(store)
	ctx := context.Background()

	id, err := cache.Resolve(ctx, "tok-alpha")
	if err != nil || id != "prof1" {
		t.Fatalf("Resolve = %q, %v", id, err)
	}

	// Second resolution is served from the snapshot.
	if _, err := cache.Resolve(ctx, "tok-beta"); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1", store.calls)
	}

	if _, err := cache.Resolve(ctx, "tok-unknown"); !errors.Is(err, policy.ErrProfileNotFound) {
		t.Errorf("unknown token error = %v", err)
	}
	if _, err := cache.Resolve(ctx, ""); !errors.Is(err, policy.ErrProfileNotFound) {
		t.Errorf("empty token error = %v", err)
	}
}

func TestTokenCacheRejectsDigestCollisionWithoutHashMatch(t *testing.T) {
	// A profile whose digest matches some token but whose Argon2id hash
	// was computed from a different one must not resolve.
	p := targetProfile(t, "prof1", "other-token")
	p.TokenDigest = BrokerTokenDigest("forged-token")

	cache := NewTokenCache(&mockProfileStore{profiles: []policy.Profile{p}})
	if _, err := cache.Resolve(context.Background(), "forged-token"); !errors.Is(err, policy.ErrProfileNotFound) {
		t.Errorf("forged token error = %v, want ErrProfileNotFound", err)
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	store := &mockProfileStore{profiles: []policy.Profile{
		targetProfile(t, "prof1", "tok-alpha"),
	}}
	cache := NewTokenCache(store)
	ctx := context.Background()

	if _, err := cache.Resolve(ctx, "tok-alpha"); err != nil {
		t.Fatal(err)
	}

	// Rotate the profile's token, then invalidate.
	store.mu.Lock()
	store.profiles = []policy.Profile{targetProfile(t, "prof1", "tok-rotated")}
	store.mu.Unlock()
	cache.Invalidate()

	if _, err := cache.Resolve(ctx, "tok-alpha"); !errors.Is(err, policy.ErrProfileNotFound) {
		t.Errorf("stale token error = %v", err)
	}
	id, err := cache.Resolve(ctx, "tok-rotated")
	if err != nil || id != "prof1" {
		t.Errorf("Resolve after rotation = %q, %v", id, err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
}
