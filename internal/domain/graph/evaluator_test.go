package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockGraphStore implements Store for testing.
type mockGraphStore struct {
	mu          sync.Mutex
	graph       *Graph
	activations []Activation
	nextID      int
	activateErr error
}

func (m *mockGraphStore) LoadGraph(_ context.Context, _ string) (*Graph, error) {
	return m.graph, nil
}

func (m *mockGraphStore) Activate(_ context.Context, p ActivateParams) (*Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activateErr != nil {
		return nil, m.activateErr
	}
	m.nextID++
	a := Activation{
		ID:          string(rune('a' + m.nextID)),
		EdgeID:      p.EdgeID,
		ActivatedAt: time.Now().UTC(),
		ProcessID:   p.ProcessID,
		ExpiresAt:   p.ExpiresAt,
	}
	m.activations = append(m.activations, a)
	return &a, nil
}

func (m *mockGraphStore) ActiveActivations(_ context.Context, edgeID string) ([]Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []Activation
	for _, a := range m.activations {
		if edgeID != "" && a.EdgeID != edgeID {
			continue
		}
		if a.Active(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockGraphStore) ConsumeActivation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.activations {
		if m.activations[i].ID == id {
			m.activations[i].Consumed = true
			return nil
		}
	}
	return ErrActivationNotFound
}

// mockSecretStore implements SecretStore for testing.
type mockSecretStore struct {
	secrets map[string]string
	err     error
}

func (m *mockSecretStore) GetByName(_ context.Context, name string) (*Secret, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return &Secret{Name: name, Value: v}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoNodeGraph(edges ...Edge) *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "n1", PolicyID: "P1"},
			{ID: "n2", PolicyID: "P2", Dormant: true},
		},
		Edges: edges,
	}
}

func TestEvaluateGrantEffects(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantNetwork, Enabled: true, Priority: 5, GrantPatterns: []string{"api.example.com"}},
		Edge{ID: "e2", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantNetwork, Enabled: true, Priority: 10, GrantPatterns: []string{"cdn.example.com"}},
		Edge{ID: "e3", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantFS, Enabled: true, GrantPatterns: []string{"r:/data/in", "w:/data/out", "/data/ro"}},
		Edge{ID: "off", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantNetwork, Enabled: false, GrantPatterns: []string{"never.example.com"}},
	)
	store := &mockGraphStore{graph: g}
	ev := NewEvaluator(store, &mockSecretStore{}, testLogger())

	effects := ev.Evaluate(context.Background(), g, "P1", 0)

	// Higher-priority edge contributes first.
	wantNet := []string{"cdn.example.com", "api.example.com"}
	if len(effects.GrantedNetworkPatterns) != 2 {
		t.Fatalf("granted network = %v, want %v", effects.GrantedNetworkPatterns, wantNet)
	}
	for i, p := range wantNet {
		if effects.GrantedNetworkPatterns[i] != p {
			t.Errorf("granted[%d] = %q, want %q", i, effects.GrantedNetworkPatterns[i], p)
		}
	}

	if len(effects.GrantedFSPaths.Read) != 2 || effects.GrantedFSPaths.Read[0] != "/data/in" || effects.GrantedFSPaths.Read[1] != "/data/ro" {
		t.Errorf("fs read grants = %v", effects.GrantedFSPaths.Read)
	}
	if len(effects.GrantedFSPaths.Write) != 1 || effects.GrantedFSPaths.Write[0] != "/data/out" {
		t.Errorf("fs write grants = %v", effects.GrantedFSPaths.Write)
	}
}

func TestEvaluateInjectSecret(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectInjectSecret, Enabled: true, SecretName: "GOG_TOKEN"},
		Edge{ID: "e2", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectInjectSecret, Enabled: true, SecretName: "MISSING"},
	)
	store := &mockGraphStore{graph: g}
	secrets := &mockSecretStore{secrets: map[string]string{"GOG_TOKEN": "xyz"}}
	ev := NewEvaluator(store, secrets, testLogger())

	effects := ev.Evaluate(context.Background(), g, "P1", 0)

	if effects.InjectedSecrets["GOG_TOKEN"] != "xyz" {
		t.Errorf("injected secrets = %v, want GOG_TOKEN=xyz", effects.InjectedSecrets)
	}
	if _, ok := effects.InjectedSecrets["MISSING"]; ok {
		t.Error("missing secret must be skipped, not injected")
	}
}

func TestEvaluateActivateLifetimes(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "session", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimeSession, Enabled: true},
		Edge{ID: "proc", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimeProcess, Enabled: true},
		Edge{ID: "persist", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimePersistent, Enabled: true},
	)
	store := &mockGraphStore{graph: g}
	ev := NewEvaluator(store, &mockSecretStore{}, testLogger())

	effects := ev.Evaluate(context.Background(), g, "P1", 4242)

	if len(effects.ActivatedPolicyIDs) != 3 {
		t.Fatalf("activated = %v, want 3 entries for P2", effects.ActivatedPolicyIDs)
	}

	// Persistent creates no row; session and process create one each.
	if len(store.activations) != 2 {
		t.Fatalf("activation rows = %d, want 2", len(store.activations))
	}
	var procBound bool
	for _, a := range store.activations {
		if a.EdgeID == "proc" && a.ProcessID == 4242 {
			procBound = true
		}
		if a.EdgeID == "session" && a.ProcessID != 0 {
			t.Error("session activation must not bind a pid")
		}
	}
	if !procBound {
		t.Error("process-lifetime activation must bind the pid")
	}
}

func TestEvaluateRevokeConsumesActivations(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "act", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimeSession, Enabled: true},
		Edge{ID: "rev", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectRevoke, Enabled: true, Priority: -1},
	)
	store := &mockGraphStore{graph: g}
	ev := NewEvaluator(store, &mockSecretStore{}, testLogger())

	// Activate runs first (higher priority), then revoke consumes it.
	ev.Evaluate(context.Background(), g, "P1", 0)

	acts, _ := store.ActiveActivations(context.Background(), "act")
	if len(acts) != 0 {
		t.Errorf("revoke must consume outstanding activations, %d remain", len(acts))
	}
}

func TestEvaluateDenyOverride(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "deny", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectDeny, Enabled: true, Priority: 10, Condition: "vetoed by compliance edge"},
		Edge{ID: "grant", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantNetwork, Enabled: true, GrantPatterns: []string{"x.example.com"}},
	)
	store := &mockGraphStore{graph: g}
	ev := NewEvaluator(store, &mockSecretStore{}, testLogger())

	effects := ev.Evaluate(context.Background(), g, "P1", 0)

	if !effects.Denied {
		t.Fatal("deny edge must set Denied")
	}
	if effects.DenyReason != "vetoed by compliance edge" {
		t.Errorf("deny reason = %q", effects.DenyReason)
	}
	// Deny does not abort accumulation.
	if len(effects.GrantedNetworkPatterns) != 1 {
		t.Error("effects after a deny edge must still accumulate")
	}
}

func TestEvaluateEdgeErrorIsolation(t *testing.T) {
	g := twoNodeGraph(
		Edge{ID: "bad", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectInjectSecret, Enabled: true, Priority: 10, SecretName: "BROKEN"},
		Edge{ID: "good", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectGrantNetwork, Enabled: true, GrantPatterns: []string{"ok.example.com"}},
	)
	store := &mockGraphStore{graph: g}
	secrets := &mockSecretStore{err: errors.New("vault offline")}
	ev := NewEvaluator(store, secrets, testLogger())

	effects := ev.Evaluate(context.Background(), g, "P1", 0)

	if len(effects.GrantedNetworkPatterns) != 1 {
		t.Error("an edge failure must not abort the remaining edges")
	}
	if len(effects.InjectedSecrets) != 0 {
		t.Error("failed secret lookup must contribute nothing")
	}
}

func TestActiveDormantSet(t *testing.T) {
	ctx := context.Background()

	t.Run("persistent edge activates latently", func(t *testing.T) {
		g := twoNodeGraph(
			Edge{ID: "e", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimePersistent, Enabled: true},
		)
		store := &mockGraphStore{graph: g}
		active, err := ActiveDormantSet(ctx, g, store)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := active["P2"]; !ok {
			t.Error("persistent activate edge must make the dormant policy active")
		}
	})

	t.Run("session edge requires a row", func(t *testing.T) {
		g := twoNodeGraph(
			Edge{ID: "e", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimeSession, Enabled: true},
		)
		store := &mockGraphStore{graph: g}

		active, _ := ActiveDormantSet(ctx, g, store)
		if len(active) != 0 {
			t.Error("dormant policy must stay inactive without an activation row")
		}

		a, _ := store.Activate(ctx, ActivateParams{EdgeID: "e"})
		active, _ = ActiveDormantSet(ctx, g, store)
		if _, ok := active["P2"]; !ok {
			t.Error("activation row must wake the dormant policy")
		}

		_ = store.ConsumeActivation(ctx, a.ID)
		active, _ = ActiveDormantSet(ctx, g, store)
		if len(active) != 0 {
			t.Error("consumed activation must no longer count")
		}
	})

	t.Run("disabled edge never activates", func(t *testing.T) {
		g := twoNodeGraph(
			Edge{ID: "e", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimePersistent, Enabled: false},
		)
		store := &mockGraphStore{graph: g}
		active, _ := ActiveDormantSet(ctx, g, store)
		if len(active) != 0 {
			t.Error("disabled activate edge must not wake the policy")
		}
	})

	t.Run("expired activation does not count", func(t *testing.T) {
		g := twoNodeGraph(
			Edge{ID: "e", SourceNodeID: "n1", TargetNodeID: "n2", Effect: EffectActivate, Lifetime: LifetimeSession, Enabled: true},
		)
		store := &mockGraphStore{graph: g}
		past := time.Now().Add(-time.Minute)
		_, _ = store.Activate(ctx, ActivateParams{EdgeID: "e", ExpiresAt: &past})

		active, _ := ActiveDormantSet(ctx, g, store)
		if len(active) != 0 {
			t.Error("expired activation must not wake the policy")
		}
	})
}
