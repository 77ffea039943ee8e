package pattern

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare domain gets https", "example.com", "https://example.com"},
		{"explicit http preserved", "http://example.com", "http://example.com"},
		{"explicit https preserved", "https://example.com", "https://example.com"},
		{"wildcard scheme preserved", "*://example.com", "*://example.com"},
		{"trailing slash stripped", "https://example.com/", "https://example.com"},
		{"multiple trailing slashes stripped", "example.com/api///", "https://example.com/api"},
		{"root slash preserved", "/", "/"},
		{"whitespace trimmed", "  example.com  ", "https://example.com"},
		{"empty stays empty", "", ""},
		{"path preserved", "example.com/v1/users", "https://example.com/v1/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{"example.com", "http://a.b/c/", "*://x", "  spaced.io/p/ ", "/"}
	for _, in := range inputs {
		once := NormalizeURL(in)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestMatchURL(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		target  string
		want    bool
	}{
		{"exact", "example.com", "https://example.com", true},
		{"under path", "example.com", "https://example.com/v1/users", true},
		{"case insensitive", "Example.COM", "https://example.com/X", true},
		{"host suffix does not leak", "example.com", "https://example.com.evil.io", false},
		{"different host", "example.com", "https://other.com", false},
		{"single star stops at slash", "https://example.com/*", "https://example.com/a", true},
		{"single star does not cross slash", "https://example.com/*", "https://example.com/a/b", false},
		{"double star crosses slash", "https://example.com/**", "https://example.com/a/b", true},
		{"question mark", "https://example.com/v?", "https://example.com/v1", true},
		{"question mark not slash", "https://example.com/v?", "https://example.com/v/", false},
		{"subdomain glob", "https://*.example.com", "https://api.example.com", true},
		{"subdomain glob rejects apex", "https://*.example.com/**", "https://example.com/x", false},
		{"scheme defaulting aligns pattern and target", "api.github.com", "https://api.github.com/repos", true},
		{"http pattern matches http target", "http://example.com", "http://example.com", true},
		{"empty pattern matches nothing", "", "https://example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchURL(tt.pattern, tt.target); got != tt.want {
				t.Errorf("MatchURL(%q, %q) = %v, want %v", tt.pattern, tt.target, got, tt.want)
			}
		})
	}
}

func TestIsPlainHTTP(t *testing.T) {
	if !IsPlainHTTP("http://example.com") {
		t.Error("expected http:// to be plain HTTP")
	}
	if !IsPlainHTTP("HTTP://EXAMPLE.COM") {
		t.Error("expected case-insensitive plain HTTP detection")
	}
	if IsPlainHTTP("https://example.com") {
		t.Error("https must not be plain HTTP")
	}
	if IsPlainHTTP("example.com") {
		t.Error("schemeless target must not be plain HTTP")
	}
}
