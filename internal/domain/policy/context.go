package policy

// CallerType identifies who originated a guarded operation.
type CallerType string

const (
	// CallerAgent marks requests coming from the agent process itself.
	CallerAgent CallerType = "agent"
	// CallerSkill marks requests coming from a skill invocation.
	CallerSkill CallerType = "skill"
)

// ExecutionContext carries the request-side attributes the decision engine
// and scope resolver consult. It is constructed fresh per RPC and never
// persisted.
type ExecutionContext struct {
	// CallerType is agent or skill.
	CallerType CallerType `json:"callerType"`
	// SkillSlug identifies the calling skill; required iff CallerType is skill.
	SkillSlug string `json:"skillSlug,omitempty"`
	// Depth is an informational reentrancy counter.
	Depth int `json:"depth,omitempty"`

	// Enclosing process identifiers for exec-derived events. Informational;
	// used for chain detection and activity fan-out.
	PID         int    `json:"pid,omitempty"`
	PPID        int    `json:"ppid,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	User        string `json:"user,omitempty"`
	SourceLayer string `json:"sourceLayer,omitempty"`
}

// IsSkill reports whether the context belongs to a skill caller.
func (c *ExecutionContext) IsSkill() bool {
	return c != nil && c.CallerType == CallerSkill
}
