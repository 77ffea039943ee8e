package pattern

import "testing"

func TestMatchPath(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"exact", "/etc/passwd", "/etc/passwd", true},
		{"double star subtree", "/root/**", "/root/.ssh/id_rsa", true},
		{"trailing slash implies subtree", "/var/log/", "/var/log/syslog/old", true},
		{"single star one level", "/etc/*/config", "/etc/nginx/config", true},
		{"single star not two levels", "/etc/*/config", "/etc/a/b/config", false},
		{"dotfile anywhere", "**/.env", "/home/agent/project/.env", true},
		{"no match", "/etc/passwd", "/etc/shadow", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchPath(tt.pattern, tt.path); got != tt.want {
				t.Errorf("MatchPath(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchSkill(t *testing.T) {
	if !MatchSkill("web-*", "web-search") {
		t.Error("expected glob to match slug")
	}
	if !MatchSkill("Web-Search", "web-search") {
		t.Error("expected case-insensitive slug match")
	}
	if MatchSkill("web-*", "mail-send") {
		t.Error("unexpected slug match")
	}
}

func TestExtractConcrete(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "concrete absolute survives",
			in:   []string{"/etc/passwd"},
			want: []string{"/etc/passwd"},
		},
		{
			name: "trailing double star stripped",
			in:   []string{"/root/**"},
			want: []string{"/root"},
		},
		{
			name: "trailing single star stripped",
			in:   []string{"/var/run/*"},
			want: []string{"/var/run"},
		},
		{
			name: "relative glob dropped",
			in:   []string{"**/.env", "*/secrets"},
			want: nil,
		},
		{
			name: "interior wildcard dropped",
			in:   []string{"/etc/*/config"},
			want: nil,
		},
		{
			name: "root and empty dropped",
			in:   []string{"/", "", "   ", "/**"},
			want: nil,
		},
		{
			name: "dedupe preserves first-seen order",
			in:   []string{"/b", "/a", "/b/**", "/a"},
			want: []string{"/b", "/a"},
		},
		{
			name: "mixed seed scenario",
			in:   []string{"/etc/passwd", "/root/**", "**/.env", "/etc/*/config"},
			want: []string{"/etc/passwd", "/root"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractConcrete(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractConcrete(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractConcrete(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractConcreteIdempotent(t *testing.T) {
	in := []string{"/etc/passwd", "/root/**", "/var/run/*"}
	once := ExtractConcrete(in)
	twice := ExtractConcrete(once)
	if len(once) != len(twice) {
		t.Fatalf("not idempotent: %v vs %v", once, twice)
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("not idempotent at %d: %q vs %q", i, once[i], twice[i])
		}
	}
}
