package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agen-co/agenshield/internal/domain/graph"
)

// GraphStore implements graph.Store with in-memory maps. Activation
// writes are serialized under the store mutex, so the dormant-active
// computation never observes a half-applied transition.
type GraphStore struct {
	mu          sync.RWMutex
	graphs      map[string]*graph.Graph // profileID -> graph; "" is global
	activations map[string]*graph.Activation
	now         func() time.Time
}

var _ graph.Store = (*GraphStore)(nil)

// NewGraphStore creates an empty in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		graphs:      make(map[string]*graph.Graph),
		activations: make(map[string]*graph.Activation),
		now:         time.Now,
	}
}

// SetGraph installs or replaces the graph for a profile.
func (s *GraphStore) SetGraph(profileID string, g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g == nil {
		delete(s.graphs, profileID)
		return
	}
	s.graphs[profileID] = copyGraph(g)
}

// LoadGraph returns the graph for a profile, falling back to the global
// graph, or nil when none exists.
func (s *GraphStore) LoadGraph(ctx context.Context, profileID string) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.graphs[profileID]; ok {
		return copyGraph(g), nil
	}
	if g, ok := s.graphs[""]; ok {
		return copyGraph(g), nil
	}
	return nil, nil
}

// Activate records that an activate edge fired.
func (s *GraphStore) Activate(ctx context.Context, p graph.ActivateParams) (*graph.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &graph.Activation{
		ID:          uuid.NewString(),
		EdgeID:      p.EdgeID,
		ActivatedAt: s.now().UTC(),
		ProcessID:   p.ProcessID,
		ExpiresAt:   p.ExpiresAt,
	}
	s.activations[a.ID] = a
	out := *a
	return &out, nil
}

// ActiveActivations returns the non-consumed, non-expired activations for
// an edge; an empty edgeID returns all of them.
func (s *GraphStore) ActiveActivations(ctx context.Context, edgeID string) ([]graph.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []graph.Activation
	for _, a := range s.activations {
		if edgeID != "" && a.EdgeID != edgeID {
			continue
		}
		if a.Active(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// ConsumeActivation marks an activation consumed.
func (s *GraphStore) ConsumeActivation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[id]
	if !ok {
		return graph.ErrActivationNotFound
	}
	a.Consumed = true
	return nil
}

func copyGraph(g *graph.Graph) *graph.Graph {
	c := &graph.Graph{
		Nodes: append([]graph.Node(nil), g.Nodes...),
		Edges: make([]graph.Edge, len(g.Edges)),
	}
	for i, e := range g.Edges {
		c.Edges[i] = e
		c.Edges[i].GrantPatterns = append([]string(nil), e.GrantPatterns...)
	}
	return c
}
