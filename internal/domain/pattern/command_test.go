package pattern

import "testing"

func TestCommandBasename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"git status", "git"},
		{"/usr/bin/git push origin", "git"},
		{"fork:/usr/local/bin/node server.js", "node"},
		{"  curl https://example.com ", "curl"},
		{"", ""},
		{"fork:", ""},
	}
	for _, tt := range tests {
		if got := CommandBasename(tt.in); got != tt.want {
			t.Errorf("CommandBasename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchCommand(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		target  string
		want    bool
	}{
		{"universal star", "*", "anything at all", true},
		{"basename prefix bare", "git:*", "git", true},
		{"basename prefix with args", "git:*", "git push origin main", true},
		{"basename prefix absolute path", "git:*", "/usr/bin/git pull", true},
		{"basename prefix case insensitive", "GIT:*", "git status", true},
		{"prefix requires token boundary", "git:*", "gitx", false},
		{"exact match normalized", "ls", "/bin/ls", true},
		{"exact match does not allow args", "ls", "ls -la", false},
		{"exact with args", "git pull", "/usr/bin/git pull", true},
		{"fork prefix stripped", "node:*", "fork:/usr/bin/node app.js", true},
		{"empty pattern", "", "ls", false},
		{"empty target", "ls", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchCommand(tt.pattern, tt.target); got != tt.want {
				t.Errorf("MatchCommand(%q, %q) = %v, want %v", tt.pattern, tt.target, got, tt.want)
			}
		})
	}
}
