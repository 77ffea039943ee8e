package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/graph"
	"github.com/agen-co/agenshield/internal/domain/policy"
	"github.com/agen-co/agenshield/internal/domain/sandbox"
)

// policyGetterTimeout bounds the storage fetch a per-run proxy performs
// when it refreshes its policy view on a new connection.
const policyGetterTimeout = 2 * time.Second

// Decision is the result of one policy check, in wire form.
type Decision struct {
	Allowed          bool                     `json:"allowed"`
	PolicyID         string                   `json:"policyId,omitempty"`
	Reason           string                   `json:"reason,omitempty"`
	Sandbox          *sandbox.Spec            `json:"sandbox,omitempty"`
	ExecutionContext *policy.ExecutionContext `json:"executionContext,omitempty"`
}

// ProxyPool is the slice of the egress proxy pool the decision path uses.
// The getters are callbacks, not snapshots: the proxy re-fetches the
// policy view on every connection.
type ProxyPool interface {
	Acquire(execID, command string, getPolicies func() []policy.Policy, getDefault func() policy.Action) (int, error)
}

// DecisionService is the policy decision engine. It loads the effective
// policy set, applies scope and graph-dormancy filtering, evaluates the
// request, folds in graph effects, and for execs produces a sandbox spec.
type DecisionService struct {
	policies      policy.Store
	graphs        graph.Store
	evaluator     *graph.Evaluator
	builder       *sandbox.Builder
	pool          ProxyPool
	tracker       *ExecChainTracker
	bus           *event.Bus
	defaultAction func() policy.Action
	logger        *slog.Logger
}

// NewDecisionService wires a decision engine. pool may be nil; sandbox
// proxy mode then denies network instead of allocating a proxy.
func NewDecisionService(
	policies policy.Store,
	graphs graph.Store,
	evaluator *graph.Evaluator,
	builder *sandbox.Builder,
	pool ProxyPool,
	bus *event.Bus,
	defaultAction func() policy.Action,
	logger *slog.Logger,
) *DecisionService {
	return &DecisionService{
		policies:      policies,
		graphs:        graphs,
		evaluator:     evaluator,
		builder:       builder,
		pool:          pool,
		tracker:       NewExecChainTracker(),
		bus:           bus,
		defaultAction: defaultAction,
		logger:        logger,
	}
}

// Check evaluates one operation for a profile. Policy denies surface in
// the Decision, never as an error; errors mean the check itself could not
// run (storage failure).
func (s *DecisionService) Check(ctx context.Context, profileID string, op policy.Operation, target string, ec *policy.ExecutionContext) (*Decision, error) {
	pols, err := s.policies.GetEnabled(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	g, err := s.graphs.LoadGraph(ctx, profileID)
	if err != nil {
		s.logger.Warn("graph load failed, deciding without graph", "profile_id", profileID, "error", err)
		g = nil
	}

	// Dormancy applies to every path; scope filtering only to the request
	// path. The sandbox builder gets the scope-unfiltered set so its
	// command-scoped aggregation still sees command: policies.
	visible := s.visible(ctx, pols, g)
	filtered := policy.FilterScope(visible, ec)
	verdict := policy.Evaluate(filtered, op, target, s.defaultAction())

	dec := &Decision{
		Allowed:          verdict.Allowed,
		PolicyID:         verdict.PolicyID,
		Reason:           verdict.Reason,
		ExecutionContext: ec,
	}

	var matched *policy.Policy
	var effects *graph.Effects
	if verdict.Matched {
		matched = findPolicy(filtered, verdict.PolicyID)
		effects = s.graphEffects(ctx, g, verdict.PolicyID, pidOf(ec))
		if effects != nil && effects.Denied {
			dec.Allowed = false
			dec.PolicyID = verdict.PolicyID
			dec.Reason = effects.DenyReason
		}
	}

	if op == policy.OpExec {
		s.trackExec(ec, target)

		// Execs get a spec on allow and on default fallback, so callers
		// running under default-allow still receive a hardened profile.
		// Only an explicit deny withholds it.
		if dec.Allowed || !verdict.Matched {
			dec.Sandbox = s.builder.Build(sandbox.Input{
				ExecID:       uuid.NewString(),
				Command:      target,
				Matched:      matched,
				Policies:     visible,
				Ctx:          ec,
				Effects:      effects,
				AcquireProxy: s.acquireProxyFunc(profileID, ec, effects),
			})
		}
	}

	s.publishDecision(dec, profileID, op, target, ec)
	return dec, nil
}

// visible filters the stored set down to policies that exist for this
// evaluation at all: enabled, and either non-dormant or
// dormant-and-activated. Scope is NOT applied here; the request path
// applies it via FilterScope while command-scoped aggregation keeps the
// full set.
func (s *DecisionService) visible(ctx context.Context, pols []policy.Policy, g *graph.Graph) []policy.Policy {
	dormant := graph.DormantPolicySet(g)
	var active map[string]struct{}
	if len(dormant) > 0 {
		var err error
		active, err = graph.ActiveDormantSet(ctx, g, s.graphs)
		if err != nil {
			s.logger.Warn("dormant-active computation failed, treating dormant policies as inactive", "error", err)
			active = nil
		}
	}

	out := make([]policy.Policy, 0, len(pols))
	for _, p := range pols {
		if !p.Enabled {
			continue
		}
		if _, isDormant := dormant[p.ID]; isDormant {
			if _, isActive := active[p.ID]; !isActive {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// graphEffects runs the graph evaluator behind a recover barrier: a
// failure there must never flip the decision, only drop the graph's
// contributions.
func (s *DecisionService) graphEffects(ctx context.Context, g *graph.Graph, policyID string, pid int) (effects *graph.Effects) {
	if g == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("graph evaluation panicked, continuing without effects",
				"policy_id", policyID, "panic", r)
			effects = nil
		}
	}()
	return s.evaluator.Evaluate(ctx, g, policyID, pid)
}

func (s *DecisionService) trackExec(ec *policy.ExecutionContext, target string) {
	if ec == nil || ec.SessionID == "" {
		return
	}
	if s.tracker.Track(ec.SessionID) {
		e := event.New(event.TypeSecurityWarning)
		e.Operation = string(policy.OpExec)
		e.Target = target
		e.SessionID = ec.SessionID
		e.Reason = "rapid exec chain detected"
		s.bus.Publish(e)
	}
}

func (s *DecisionService) publishDecision(dec *Decision, profileID string, op policy.Operation, target string, ec *policy.ExecutionContext) {
	t := event.TypeAllowed
	if !dec.Allowed {
		t = event.TypeDenied
	}
	e := event.New(t)
	e.Operation = string(op)
	e.Target = target
	e.PolicyID = dec.PolicyID
	e.Reason = dec.Reason
	e.ProfileID = profileID
	if ec != nil {
		e.SessionID = ec.SessionID
	}
	s.bus.Publish(e)
}

// acquireProxyFunc binds the pool and the live policy getters for one
// exec. The getter hits storage on every call so a policy edit is
// effective on the proxy's next connection.
func (s *DecisionService) acquireProxyFunc(profileID string, ec *policy.ExecutionContext, effects *graph.Effects) sandbox.AcquireProxyFunc {
	if s.pool == nil {
		return nil
	}
	return func(execID, command string) (int, error) {
		getPolicies := func() []policy.Policy {
			return s.urlPolicySlice(profileID, command, ec, effects)
		}
		getDefault := func() policy.Action { return s.defaultAction() }
		return s.pool.Acquire(execID, command, getPolicies, getDefault)
	}
}

// urlPolicySlice is the per-run proxy's policy view: synthetic allow
// policies derived from graph network grants first, at the highest
// priority, then the current universal and command-scoped policies.
func (s *DecisionService) urlPolicySlice(profileID, command string, ec *policy.ExecutionContext, effects *graph.Effects) []policy.Policy {
	ctx, cancel := context.WithTimeout(context.Background(), policyGetterTimeout)
	defer cancel()

	var slice []policy.Policy
	pols, err := s.policies.GetEnabled(ctx, profileID)
	if err != nil {
		s.logger.Warn("policy refresh for proxy failed, serving grants only", "error", err)
	} else {
		slice = policy.ForCommand(pols, command, ec)
	}

	if effects != nil && len(effects.GrantedNetworkPatterns) > 0 {
		grant := policy.Policy{
			ID:       "graph-network-grant",
			Name:     "graph network grant",
			Action:   policy.ActionAllow,
			Target:   policy.TargetURL,
			Patterns: effects.GrantedNetworkPatterns,
			Enabled:  true,
			Priority: math.MaxInt32,
		}
		slice = append([]policy.Policy{grant}, slice...)
	}
	return slice
}

func findPolicy(pols []policy.Policy, id string) *policy.Policy {
	for i := range pols {
		if pols[i].ID == id {
			return &pols[i]
		}
	}
	return nil
}

func pidOf(ec *policy.ExecutionContext) int {
	if ec == nil {
		return 0
	}
	return ec.PID
}
