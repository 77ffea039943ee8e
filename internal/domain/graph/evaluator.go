package graph

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Evaluator processes the outgoing edges of a matched policy's node and
// accumulates their effects. A failure inside a single edge is logged and
// dropped; the remaining edges still run and the aggregate is always
// returned. Secret values never reach the log, only their names.
type Evaluator struct {
	store   Store
	secrets SecretStore
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator over the given stores.
func NewEvaluator(store Store, secrets SecretStore, logger *slog.Logger) *Evaluator {
	return &Evaluator{store: store, secrets: secrets, logger: logger}
}

// Evaluate runs the edge effects for the matched policy and returns the
// aggregate. pid is the enclosing process id when known (0 otherwise); it
// binds process-lifetime activations.
func (e *Evaluator) Evaluate(ctx context.Context, g *Graph, policyID string, pid int) *Effects {
	effects := &Effects{InjectedSecrets: map[string]string{}}
	if g == nil {
		return effects
	}

	nodes := g.NodesByPolicy(policyID)
	if len(nodes) == 0 {
		return effects
	}
	if len(nodes) > 1 {
		e.logger.Warn("policy appears under multiple graph nodes, using the first",
			"policy_id", policyID, "nodes", len(nodes))
	}
	node := nodes[0]

	for _, edge := range g.OutgoingEdges(node.ID) {
		if err := e.applyEdge(ctx, g, edge, effects, pid); err != nil {
			e.logger.Warn("graph edge failed, skipping",
				"edge_id", edge.ID, "effect", string(edge.Effect), "error", err)
		}
	}
	return effects
}

// applyEdge folds one edge into the aggregate.
func (e *Evaluator) applyEdge(ctx context.Context, g *Graph, edge Edge, effects *Effects, pid int) error {
	switch edge.Effect {
	case EffectGrantNetwork:
		effects.GrantedNetworkPatterns = append(effects.GrantedNetworkPatterns, edge.GrantPatterns...)

	case EffectGrantFS:
		for _, pat := range edge.GrantPatterns {
			switch {
			case strings.HasPrefix(pat, "w:"):
				effects.GrantedFSPaths.Write = append(effects.GrantedFSPaths.Write, strings.TrimPrefix(pat, "w:"))
			case strings.HasPrefix(pat, "r:"):
				effects.GrantedFSPaths.Read = append(effects.GrantedFSPaths.Read, strings.TrimPrefix(pat, "r:"))
			default:
				effects.GrantedFSPaths.Read = append(effects.GrantedFSPaths.Read, pat)
			}
		}

	case EffectInjectSecret:
		if edge.SecretName == "" {
			return nil
		}
		secret, err := e.secrets.GetByName(ctx, edge.SecretName)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				e.logger.Debug("secret not found, skipping injection", "name", edge.SecretName)
				return nil
			}
			return err
		}
		effects.InjectedSecrets[secret.Name] = secret.Value

	case EffectActivate:
		target := g.NodeByID(edge.TargetNodeID)
		if target == nil {
			return errors.New("activate edge targets unknown node")
		}
		effects.ActivatedPolicyIDs = append(effects.ActivatedPolicyIDs, target.PolicyID)

		// Persistent edges are latently active; only session and process
		// lifetimes create activation rows.
		if edge.Lifetime == LifetimeSession || edge.Lifetime == LifetimeProcess {
			params := ActivateParams{EdgeID: edge.ID}
			if edge.Lifetime == LifetimeProcess && pid > 0 {
				params.ProcessID = pid
			}
			if _, err := e.store.Activate(ctx, params); err != nil {
				return err
			}
		}

	case EffectRevoke:
		target := g.NodeByID(edge.TargetNodeID)
		if target == nil {
			return errors.New("revoke edge targets unknown node")
		}
		for _, in := range g.IncomingActivateEdges(target.ID) {
			acts, err := e.store.ActiveActivations(ctx, in.ID)
			if err != nil {
				return err
			}
			for _, a := range acts {
				if err := e.store.ConsumeActivation(ctx, a.ID); err != nil {
					return err
				}
			}
		}

	case EffectDeny:
		effects.Denied = true
		effects.DenyReason = edge.Condition
		if effects.DenyReason == "" {
			effects.DenyReason = "denied by policy graph"
		}

	default:
		return errors.New("unknown edge effect " + string(edge.Effect))
	}
	return nil
}

// ActiveDormantSet computes the set of dormant policy ids that are
// currently active: a dormant node is active iff some enabled incoming
// activate edge is persistent, or has at least one non-consumed,
// non-expired activation row. The result is a pure function of the graph
// and the activation log, materialized lazily per decision.
func ActiveDormantSet(ctx context.Context, g *Graph, store Store) (map[string]struct{}, error) {
	active := make(map[string]struct{})
	if g == nil {
		return active, nil
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if !node.Dormant {
			continue
		}
		for _, edge := range g.IncomingActivateEdges(node.ID) {
			if edge.Lifetime == LifetimePersistent {
				active[node.PolicyID] = struct{}{}
				break
			}
			acts, err := store.ActiveActivations(ctx, edge.ID)
			if err != nil {
				return nil, err
			}
			if len(acts) > 0 {
				active[node.PolicyID] = struct{}{}
				break
			}
		}
	}
	return active, nil
}

// DormantPolicySet returns the policy ids attached to dormant nodes.
// Policies in this set evaluate only when ActiveDormantSet includes them.
func DormantPolicySet(g *Graph) map[string]struct{} {
	dormant := make(map[string]struct{})
	if g == nil {
		return dormant
	}
	for _, n := range g.Nodes {
		if n.Dormant {
			dormant[n.PolicyID] = struct{}{}
		}
	}
	return dormant
}
