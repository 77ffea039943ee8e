package policy

import (
	"fmt"
	"sort"

	"github.com/agen-co/agenshield/internal/domain/pattern"
)

// PlainHTTPBlockedReason is the user-visible reason for the plain-HTTP
// default-deny, evaluated before normal policy iteration.
const PlainHTTPBlockedReason = "plain HTTP blocked by default"

// Verdict is the outcome of evaluating one operation against a policy slice.
type Verdict struct {
	// Allowed is true when the operation may proceed.
	Allowed bool
	// Matched is true when an explicit policy (not the default action) decided.
	Matched bool
	// PolicyID identifies the deciding policy when Matched.
	PolicyID string
	// PolicyName is the deciding policy's display name.
	PolicyName string
	// Reason is the human-readable explanation.
	Reason string
}

// SortEffective orders a policy slice by priority descending. The sort is
// stable, so ties resolve by insertion order. The input is not modified.
func SortEffective(policies []Policy) []Policy {
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// verdictFor converts a matched policy into a Verdict. ActionApproval is
// treated as deny until approval flows land.
func verdictFor(p *Policy) Verdict {
	v := Verdict{
		Matched:    true,
		PolicyID:   p.ID,
		PolicyName: p.Name,
	}
	if p.Action == ActionAllow {
		v.Allowed = true
		v.Reason = fmt.Sprintf("matched policy %s", p.displayName())
	} else {
		v.Reason = fmt.Sprintf("denied by policy %s", p.displayName())
	}
	return v
}

func (p *Policy) displayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// DefaultVerdict is the fallback when no policy matches.
func DefaultVerdict(defaultAction Action) Verdict {
	if defaultAction == ActionAllow {
		return Verdict{Allowed: true, Reason: "no matching policy (default allow)"}
	}
	return Verdict{Allowed: false, Reason: "no matching policy (default deny)"}
}

// EvaluateURL runs the URL decision procedure over an already filtered
// policy slice (scope and graph dormancy applied by the caller). It sorts
// by priority, applies the plain-HTTP precheck, then iterates policies and
// their patterns in order; the first match wins. The per-run proxy shares
// this path with the decision engine, feeding it a live policy slice.
func EvaluateURL(policies []Policy, op Operation, target string, defaultAction Action) Verdict {
	sorted := SortEffective(policies)

	// Plain HTTP is blocked unless an allow policy names the scheme
	// explicitly. This runs before normal policy iteration.
	if pattern.IsPlainHTTP(target) && !hasExplicitHTTPAllow(sorted, target) {
		return Verdict{Allowed: false, Reason: PlainHTTPBlockedReason}
	}

	for i := range sorted {
		p := &sorted[i]
		if !p.Enabled || p.Target != TargetURL || !p.AppliesTo(op) {
			continue
		}
		if p.Matches(target) {
			return verdictFor(p)
		}
	}
	return DefaultVerdict(defaultAction)
}

// hasExplicitHTTPAllow scans url+allow policies for an "http://"-prefixed
// pattern matching the target.
func hasExplicitHTTPAllow(sorted []Policy, target string) bool {
	for i := range sorted {
		p := &sorted[i]
		if !p.Enabled || p.Target != TargetURL || p.Action != ActionAllow {
			continue
		}
		for _, pat := range p.Patterns {
			if pattern.IsExplicitHTTPPattern(pat) && pattern.MatchURL(pat, target) {
				return true
			}
		}
	}
	return false
}

// Evaluate runs the shared decision iteration for command and filesystem
// operations over an already filtered, unsorted policy slice. URL
// operations go through EvaluateURL for the plain-HTTP precheck.
func Evaluate(policies []Policy, op Operation, target string, defaultAction Action) Verdict {
	tt := op.TargetType()
	if tt == TargetURL {
		return EvaluateURL(policies, op, target, defaultAction)
	}

	sorted := SortEffective(policies)
	for i := range sorted {
		p := &sorted[i]
		if !p.Enabled || p.Target != tt || !p.AppliesTo(op) {
			continue
		}
		if p.Matches(target) {
			return verdictFor(p)
		}
	}
	return DefaultVerdict(defaultAction)
}
