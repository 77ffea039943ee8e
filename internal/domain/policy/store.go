package policy

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrPolicyNotFound is returned when a policy id does not exist.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrProfileNotFound is returned when a profile id or token does not resolve.
	ErrProfileNotFound = errors.New("profile not found")
)

// Store persists and retrieves policies.
type Store interface {
	// GetEnabled returns the effective enabled policy set for a profile:
	// the union of global policies and policies scoped to profileID, in
	// insertion order. An empty profileID returns global policies only.
	GetEnabled(ctx context.Context, profileID string) ([]Policy, error)

	// Save creates or updates a policy.
	Save(ctx context.Context, p *Policy) error

	// Delete removes a policy by id. Returns ErrPolicyNotFound if absent.
	Delete(ctx context.Context, id string) error
}

// Profile is a caller profile a broker token resolves to.
type Profile struct {
	// ID is the stable profile identifier.
	ID string
	// Name is the display name.
	Name string
	// Type distinguishes profile kinds; token resolution uses "target".
	Type string
	// TokenDigest is the xxhash64 hex digest of the raw broker token,
	// used for O(1) cache lookup.
	TokenDigest string
	// TokenHash is the Argon2id hash of the raw broker token, verified
	// once per token before the cache trusts the digest.
	TokenHash string
}

// ProfileStore retrieves caller profiles for broker-token resolution.
type ProfileStore interface {
	// GetByType returns all profiles of the given type.
	GetByType(ctx context.Context, profileType string) ([]Profile, error)
}
