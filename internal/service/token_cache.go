// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alexedwards/argon2id"
	"github.com/cespare/xxhash/v2"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// targetProfileType is the profile kind broker tokens resolve against.
const targetProfileType = "target"

// BrokerTokenDigest returns the xxhash64 hex digest of a raw broker
// token. Profiles store this digest for O(1) cache lookup; the Argon2id
// hash stays authoritative.
func BrokerTokenDigest(token string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(token))
}

type tokenSnapshot struct {
	byDigest map[string]policy.Profile
}

// TokenCache maps broker tokens to profile ids. The snapshot is rebuilt
// from storage on first access and replaced wholesale on Invalidate; it is
// never mutated incrementally. Each distinct token is verified against its
// profile's Argon2id hash once, after which the digest lookup suffices.
type TokenCache struct {
	profiles policy.ProfileStore

	loadMu   sync.Mutex
	snap     atomic.Pointer[tokenSnapshot]
	verified sync.Map // digest -> struct{}
}

// NewTokenCache creates a TokenCache over the given profile store.
func NewTokenCache(profiles policy.ProfileStore) *TokenCache {
	return &TokenCache{profiles: profiles}
}

// Resolve returns the profile id a broker token belongs to, or
// policy.ErrProfileNotFound for an unknown or mismatching token.
func (c *TokenCache) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", policy.ErrProfileNotFound
	}

	snap := c.snap.Load()
	if snap == nil {
		var err error
		if snap, err = c.rebuild(ctx); err != nil {
			return "", err
		}
	}

	digest := BrokerTokenDigest(token)
	profile, ok := snap.byDigest[digest]
	if !ok {
		return "", policy.ErrProfileNotFound
	}

	if _, done := c.verified.Load(digest); !done && profile.TokenHash != "" {
		match, err := argon2id.ComparePasswordAndHash(token, profile.TokenHash)
		if err != nil || !match {
			return "", policy.ErrProfileNotFound
		}
		c.verified.Store(digest, struct{}{})
	}
	return profile.ID, nil
}

// Invalidate drops the snapshot and the verification memo. The next
// Resolve rebuilds from storage. Call this on any profile mutation.
func (c *TokenCache) Invalidate() {
	c.snap.Store(nil)
	c.verified.Range(func(key, _ any) bool {
		c.verified.Delete(key)
		return true
	})
}

func (c *TokenCache) rebuild(ctx context.Context) (*tokenSnapshot, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if snap := c.snap.Load(); snap != nil {
		return snap, nil
	}

	profiles, err := c.profiles.GetByType(ctx, targetProfileType)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	snap := &tokenSnapshot{byDigest: make(map[string]policy.Profile, len(profiles))}
	for _, p := range profiles {
		if p.TokenDigest == "" {
			continue
		}
		snap.byDigest[p.TokenDigest] = p
	}
	c.snap.Store(snap)
	return snap, nil
}
