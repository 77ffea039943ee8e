package policy

import "testing"

func agentCtx() *ExecutionContext {
	return &ExecutionContext{CallerType: CallerAgent}
}

func skillCtx(slug string) *ExecutionContext {
	return &ExecutionContext{CallerType: CallerSkill, SkillSlug: slug}
}

func TestScopeMatches(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		ctx   *ExecutionContext
		want  bool
	}{
		{"universal matches agent", "", agentCtx(), true},
		{"universal matches skill", "", skillCtx("web"), true},
		{"universal matches nil", "", nil, true},
		{"agent matches agent", "agent", agentCtx(), true},
		{"agent matches nil context", "agent", nil, true},
		{"agent rejects skill", "agent", skillCtx("web"), false},
		{"skill matches skill", "skill", skillCtx("web"), true},
		{"skill rejects agent", "skill", agentCtx(), false},
		{"skill rejects nil", "skill", nil, false},
		{"skill slug matches", "skill:web-search", skillCtx("web-search"), true},
		{"skill slug case insensitive", "skill:Web-Search", skillCtx("web-search"), true},
		{"skill slug mismatch", "skill:web-search", skillCtx("mail"), false},
		{"command never matches on this path", "command:curl", agentCtx(), false},
		{"command never matches even nil", "command:curl", nil, false},
		{"unknown prefix is permissive", "tenant:acme", agentCtx(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeMatches(tt.scope, tt.ctx); got != tt.want {
				t.Errorf("ScopeMatches(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestForCommandOrdering(t *testing.T) {
	policies := []Policy{
		{ID: "u1", Enabled: true},
		{ID: "c1", Enabled: true, Scope: "command:curl"},
		{ID: "u2", Enabled: true, Scope: "agent"},
		{ID: "c2", Enabled: true, Scope: "command:CURL"},
		{ID: "other", Enabled: true, Scope: "command:wget"},
	}

	got := ForCommand(policies, "/usr/bin/curl -s https://example.com", agentCtx())

	want := []string{"u1", "u2", "c1", "c2"}
	if len(got) != len(want) {
		t.Fatalf("ForCommand returned %d policies, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("ForCommand[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestForCommandSkillScopedExcludedForSkillMismatch(t *testing.T) {
	policies := []Policy{
		{ID: "s", Enabled: true, Scope: "skill:web"},
		{ID: "c", Enabled: true, Scope: "command:git"},
	}
	got := ForCommand(policies, "git status", agentCtx())
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("expected only the command-scoped policy, got %v", got)
	}
}
