package pattern

import "strings"

// MatchPath reports whether a filesystem path matches a path pattern.
// Glob semantics are shared with URL patterns ('**' crosses '/', '*' and
// '?' do not). A pattern ending in "/" is implicitly suffixed with "**",
// so "/var/log/" covers the whole subtree.
func MatchPath(pat, path string) bool {
	p := strings.TrimSpace(pat)
	if p == "" {
		return false
	}
	if strings.HasSuffix(p, "/") {
		p += "**"
	}
	return matchGlob(p, strings.TrimSpace(path))
}

// MatchSkill reports whether a skill slug matches a skill pattern.
// Skill patterns are plain case-insensitive globs over the slug.
func MatchSkill(pat, slug string) bool {
	p := strings.TrimSpace(pat)
	if p == "" {
		return false
	}
	return matchGlob(p, strings.TrimSpace(slug))
}
