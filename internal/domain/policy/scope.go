package policy

import (
	"strings"

	"github.com/agen-co/agenshield/internal/domain/pattern"
)

// Scope prefixes. A policy scope is one of:
//
//	""                  universal
//	"agent"             agent callers only
//	"skill"             any skill caller
//	"skill:<slug>"      that skill only
//	"command:<basename>" only via the command-scoped aggregation path
const (
	ScopeAgent         = "agent"
	ScopeSkill         = "skill"
	scopeSkillPrefix   = "skill:"
	scopeCommandPrefix = "command:"
)

// ScopeMatches reports whether a policy scope admits the given execution
// context on the request path.
//
// Command-scoped policies never match here: they participate only through
// the command-scoped aggregation used for sandbox builds and per-run proxy
// slices (ForCommand). A nil context is treated as agent-like, which keeps
// no-context URL evaluation working. Unknown scope prefixes are admitted
// for forward compatibility.
func ScopeMatches(scope string, ctx *ExecutionContext) bool {
	scope = strings.TrimSpace(scope)
	switch {
	case scope == "":
		return true
	case scope == ScopeAgent:
		return ctx == nil || ctx.CallerType == CallerAgent
	case scope == ScopeSkill:
		return ctx.IsSkill()
	case strings.HasPrefix(scope, scopeSkillPrefix):
		if !ctx.IsSkill() {
			return false
		}
		return strings.EqualFold(strings.TrimPrefix(scope, scopeSkillPrefix), ctx.SkillSlug)
	case strings.HasPrefix(scope, scopeCommandPrefix):
		return false
	default:
		return true
	}
}

// CommandScope returns the basename a command-scoped policy binds to, or
// "" if the policy is not command-scoped.
func CommandScope(scope string) string {
	if strings.HasPrefix(scope, scopeCommandPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(scope, scopeCommandPrefix))
	}
	return ""
}

// FilterScope keeps the policies whose scope admits ctx, preserving order.
func FilterScope(policies []Policy, ctx *ExecutionContext) []Policy {
	out := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if ScopeMatches(p.Scope, ctx) {
			out = append(out, p)
		}
	}
	return out
}

// ForCommand aggregates the policy slice used for sandbox builds and
// per-run proxy evaluation: all universal policies first, preserving their
// relative order, then command-scoped policies whose basename equals the
// enclosing command's basename (case-insensitively).
//
// The universal-before-command ordering is contractual: callers that
// concatenate patterns observe it.
func ForCommand(policies []Policy, commandTarget string, ctx *ExecutionContext) []Policy {
	basename := pattern.CommandBasename(commandTarget)

	out := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if CommandScope(p.Scope) == "" && ScopeMatches(p.Scope, ctx) {
			out = append(out, p)
		}
	}
	for _, p := range policies {
		if cs := CommandScope(p.Scope); cs != "" && strings.EqualFold(cs, basename) {
			out = append(out, p)
		}
	}
	return out
}
