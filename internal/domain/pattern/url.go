package pattern

import "strings"

// NormalizeURL canonicalizes a URL or URL pattern for matching:
//
//   - surrounding whitespace is trimmed
//   - trailing slashes of the path are stripped (a lone "/" is preserved)
//   - a missing scheme defaults to "https://"; explicit "http://",
//     "https://", and the wildcard "*://" are preserved
//
// Normalization is idempotent: NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	for len(s) > 1 && strings.HasSuffix(s, "/") && !strings.HasSuffix(s, "://") {
		s = s[:len(s)-1]
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return s
}

// MatchURL reports whether target matches the URL pattern.
//
// A pattern without a trailing '*' matches the exact normalized URL or any
// URL under its path: "example.com" matches "https://example.com" and
// "https://example.com/v1/users", but not "https://example.com.evil.io".
// A pattern with a trailing '*' or '**' is matched as a glob.
// Matching is case-insensitive.
func MatchURL(pat, target string) bool {
	p := NormalizeURL(pat)
	t := NormalizeURL(target)
	if p == "" {
		return false
	}

	if strings.HasSuffix(p, "*") {
		return matchGlob(p, t)
	}

	// Exact match, or anything under the pattern's path.
	if strings.EqualFold(p, t) {
		return true
	}
	return matchGlob(p+"/**", t)
}

// IsPlainHTTP reports whether the target is a plain-HTTP URL.
// Plain HTTP is blocked unless an allow policy carries an explicit
// "http://"-prefixed pattern matching the target.
func IsPlainHTTP(target string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(target)), "http://")
}

// IsExplicitHTTPPattern reports whether the pattern explicitly names the
// plain-HTTP scheme. Only such patterns can unlock a plain-HTTP target.
func IsExplicitHTTPPattern(pat string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(pat)), "http://")
}
