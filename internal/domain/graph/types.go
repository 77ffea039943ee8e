// Package graph contains the policy graph: typed edges that activate
// dormant policies, grant capabilities, inject secrets, or veto decisions.
package graph

import (
	"sort"
	"time"
)

// Effect is the closed set of edge effect kinds.
type Effect string

const (
	// EffectActivate wakes the target node's dormant policy.
	EffectActivate Effect = "activate"
	// EffectRevoke consumes outstanding activations of the target node.
	EffectRevoke Effect = "revoke"
	// EffectGrantNetwork adds URL patterns to the run's egress allowance.
	EffectGrantNetwork Effect = "grant_network"
	// EffectGrantFS adds filesystem paths to the sandbox allowance.
	EffectGrantFS Effect = "grant_fs"
	// EffectInjectSecret injects a named secret into the sandbox env.
	EffectInjectSecret Effect = "inject_secret"
	// EffectDeny vetoes the source policy's allow decision.
	EffectDeny Effect = "deny"
)

// Lifetime bounds how long an activation lives.
type Lifetime string

const (
	// LifetimeSession activations persist until consumed.
	LifetimeSession Lifetime = "session"
	// LifetimeProcess activations are bound to a process id.
	LifetimeProcess Lifetime = "process"
	// LifetimePersistent edges are latently active and create no rows.
	LifetimePersistent Lifetime = "persistent"
)

// Node attaches a policy to the graph. A dormant node's policy does not
// participate in evaluation until activated.
type Node struct {
	ID       string `json:"id"`
	PolicyID string `json:"policyId"`
	Dormant  bool   `json:"dormant"`
}

// Edge is a typed, directed connection between two nodes.
type Edge struct {
	ID           string   `json:"id"`
	SourceNodeID string   `json:"sourceNodeId"`
	TargetNodeID string   `json:"targetNodeId"`
	Effect       Effect   `json:"effect"`
	Lifetime     Lifetime `json:"lifetime"`
	Priority     int      `json:"priority"`
	Enabled      bool     `json:"enabled"`
	// GrantPatterns carries grant_network URL patterns or grant_fs paths.
	// grant_fs paths may be prefixed "r:" (read) or "w:" (write);
	// no prefix means read.
	GrantPatterns []string `json:"grantPatterns,omitempty"`
	// SecretName names the secret an inject_secret edge reads.
	SecretName string `json:"secretName,omitempty"`
	// Condition is the user-visible reason a deny edge carries.
	Condition string `json:"condition,omitempty"`
}

// Activation records that an activate edge fired.
type Activation struct {
	ID          string     `json:"id"`
	EdgeID      string     `json:"edgeId"`
	ActivatedAt time.Time  `json:"activatedAt"`
	ProcessID   int        `json:"processId,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Consumed    bool       `json:"consumed"`
}

// Active reports whether the activation still counts at the given instant.
func (a *Activation) Active(now time.Time) bool {
	if a.Consumed {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Graph is a profile-scoped directed multigraph over policies.
// The graph stores nodeId -> policyId, never the reverse; cycles between
// policies and nodes are forbidden by construction.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodesByPolicy returns every node attached to the policy id. The same
// policy under multiple nodes is undefined behavior; callers warn on it.
func (g *Graph) NodesByPolicy(policyID string) []*Node {
	var out []*Node
	for i := range g.Nodes {
		if g.Nodes[i].PolicyID == policyID {
			out = append(out, &g.Nodes[i])
		}
	}
	return out
}

// OutgoingEdges returns the enabled edges leaving a node, sorted by
// priority descending; ties keep declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Enabled && e.SourceNodeID == nodeID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// IncomingActivateEdges returns the enabled activate edges entering a node.
func (g *Graph) IncomingActivateEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Enabled && e.Effect == EffectActivate && e.TargetNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// FSGrants splits granted filesystem paths by access mode.
type FSGrants struct {
	Read  []string `json:"read,omitempty"`
	Write []string `json:"write,omitempty"`
}

// Effects is the aggregate a graph evaluation produces for one matched
// policy. The decision engine folds it into the final decision and the
// sandbox specification.
type Effects struct {
	GrantedNetworkPatterns []string          `json:"grantedNetworkPatterns,omitempty"`
	GrantedFSPaths         FSGrants          `json:"grantedFsPaths"`
	InjectedSecrets        map[string]string `json:"-"`
	ActivatedPolicyIDs     []string          `json:"activatedPolicyIds,omitempty"`
	Denied                 bool              `json:"denied,omitempty"`
	DenyReason             string            `json:"denyReason,omitempty"`
}
