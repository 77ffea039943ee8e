// Package policy contains domain types for shield policy evaluation.
package policy

import "github.com/agen-co/agenshield/internal/domain/pattern"

// Action is the outcome a policy prescribes when it matches.
type Action string

const (
	// ActionAllow permits the guarded operation.
	ActionAllow Action = "allow"
	// ActionDeny blocks the guarded operation.
	ActionDeny Action = "deny"
	// ActionApproval is reserved for human-in-the-loop flows.
	// The decision engine treats it as deny today.
	ActionApproval Action = "approval"
)

// TargetType selects which matcher syntax a policy's patterns use.
type TargetType string

const (
	// TargetURL policies match outbound HTTP/HTTPS destinations.
	TargetURL TargetType = "url"
	// TargetCommand policies match exec targets by command pattern.
	TargetCommand TargetType = "command"
	// TargetFilesystem policies match file paths by glob.
	TargetFilesystem TargetType = "filesystem"
	// TargetSkill policies match skill slugs; used outside the hot path.
	TargetSkill TargetType = "skill"
)

// Operation identifies a guarded operation kind.
type Operation string

const (
	OpHTTPRequest  Operation = "http_request"
	OpExec         Operation = "exec"
	OpFileRead     Operation = "file_read"
	OpFileWrite    Operation = "file_write"
	OpFileList     Operation = "file_list"
	OpOpenURL      Operation = "open_url"
	OpSecretInject Operation = "secret_inject"
)

// TargetType maps an operation to the policy target type it evaluates against.
func (op Operation) TargetType() TargetType {
	switch op {
	case OpHTTPRequest, OpOpenURL:
		return TargetURL
	case OpExec:
		return TargetCommand
	case OpFileRead, OpFileWrite, OpFileList:
		return TargetFilesystem
	default:
		return ""
	}
}

// NetworkAccess is the optional exec-only network hint a policy carries.
type NetworkAccess string

const (
	// NetworkNone denies all network access to the sandboxed exec.
	NetworkNone NetworkAccess = "none"
	// NetworkProxy routes the exec through a per-run egress proxy.
	NetworkProxy NetworkAccess = "proxy"
	// NetworkDirect grants unproxied network access.
	NetworkDirect NetworkAccess = "direct"
)

// Policy is the fundamental decision record.
type Policy struct {
	// ID uniquely identifies the policy within the effective set.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable display name.
	Name string `json:"name" yaml:"name"`
	// ProfileID scopes the policy to a profile; empty means global.
	ProfileID string `json:"profileId,omitempty" yaml:"profile_id,omitempty"`
	// Action is allow, deny, or approval (reserved, treated as deny).
	Action Action `json:"action" yaml:"action"`
	// Target selects the matcher syntax for Patterns.
	Target TargetType `json:"target" yaml:"target"`
	// Patterns is evaluated in order; the first match wins.
	Patterns []string `json:"patterns" yaml:"patterns"`
	// Operations optionally restricts the policy to specific operations.
	// Empty means the policy applies to every operation of its target type.
	Operations []Operation `json:"operations,omitempty" yaml:"operations,omitempty"`
	// Enabled gates participation; a disabled policy is equivalent to absence.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Priority orders evaluation, higher first. Ties resolve by insertion order.
	Priority int `json:"priority" yaml:"priority"`
	// Scope limits which callers the policy applies to (see ScopeMatches).
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
	// NetworkAccess is the exec-only network hint.
	NetworkAccess NetworkAccess `json:"networkAccess,omitempty" yaml:"network_access,omitempty"`
}

// AppliesTo reports whether the policy's operations filter admits op.
func (p *Policy) AppliesTo(op Operation) bool {
	if len(p.Operations) == 0 {
		return true
	}
	for _, o := range p.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// AllowsAnyOf reports whether the policy's operations filter includes at
// least one of the given operations.
func (p *Policy) AllowsAnyOf(ops ...Operation) bool {
	for _, op := range ops {
		if p.AppliesTo(op) {
			return true
		}
	}
	return false
}

// Matches reports whether the target matches any of the policy's patterns,
// using the matcher syntax selected by the policy's target type.
// Pattern order is preserved; the first matching pattern decides.
func (p *Policy) Matches(target string) bool {
	for _, pat := range p.Patterns {
		var ok bool
		switch p.Target {
		case TargetURL:
			ok = pattern.MatchURL(pat, target)
		case TargetCommand:
			ok = pattern.MatchCommand(pat, target)
		case TargetFilesystem:
			ok = pattern.MatchPath(pat, target)
		case TargetSkill:
			ok = pattern.MatchSkill(pat, target)
		}
		if ok {
			return true
		}
	}
	return false
}
