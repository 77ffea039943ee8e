package graph

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrActivationNotFound is returned when an activation id does not exist.
	ErrActivationNotFound = errors.New("activation not found")
	// ErrSecretNotFound is returned when a named secret is absent.
	ErrSecretNotFound = errors.New("secret not found")
)

// ActivateParams are the inputs for recording an activation.
type ActivateParams struct {
	EdgeID    string
	ProcessID int
	ExpiresAt *time.Time
}

// Store persists the policy graph and its activation log.
// Activate and ConsumeActivation must be atomic with respect to
// ActiveActivations so the dormant-active computation never observes a
// half-applied transition.
type Store interface {
	// LoadGraph returns the graph for a profile, or nil when none exists.
	LoadGraph(ctx context.Context, profileID string) (*Graph, error)

	// Activate records that an activate edge fired.
	Activate(ctx context.Context, p ActivateParams) (*Activation, error)

	// ActiveActivations returns the non-consumed, non-expired activations
	// for an edge. An empty edgeID returns all active activations.
	ActiveActivations(ctx context.Context, edgeID string) ([]Activation, error)

	// ConsumeActivation marks an activation consumed.
	ConsumeActivation(ctx context.Context, id string) error
}

// Secret is a named secret value resolved during graph evaluation.
type Secret struct {
	Name  string
	Value string
}

// SecretStore resolves named secrets for inject_secret edges.
// Implementations handle their own concurrency; the evaluator calls
// GetByName synchronously.
type SecretStore interface {
	// GetByName returns the secret, or ErrSecretNotFound.
	GetByName(ctx context.Context, name string) (*Secret, error)
}
