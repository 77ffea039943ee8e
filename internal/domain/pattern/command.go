package pattern

import (
	"path/filepath"
	"strings"
)

// forkPrefix marks an exec target spawned through the interceptor's
// fork shim. It is stripped before any command matching.
const forkPrefix = "fork:"

// CommandBasename extracts the command basename from an exec target:
// strip a leading "fork:" marker, take the first whitespace-delimited
// token, and reduce an absolute or relative path to its last component.
func CommandBasename(target string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(target), forkPrefix))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// NormalizeCommand rewrites an exec target so that the first token is the
// command basename and the argument tail is whitespace-normalized.
func NormalizeCommand(target string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(target), forkPrefix))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	fields[0] = filepath.Base(fields[0])
	return strings.Join(fields, " ")
}

// MatchCommand reports whether an exec target matches a command pattern.
//
//	"*"       matches any command
//	"git:*"   matches the basename "git" with an optional argument tail
//	"git pull" matches the normalized target exactly
//
// Matching is case-insensitive. There is no '**' or '?' in this syntax.
func MatchCommand(pat, target string) bool {
	p := strings.TrimSpace(pat)
	if p == "" {
		return false
	}
	if p == "*" {
		return true
	}

	norm := NormalizeCommand(target)
	if norm == "" {
		return false
	}

	if strings.HasSuffix(p, ":*") {
		prefix := strings.ToLower(p[:len(p)-2])
		lower := strings.ToLower(norm)
		return lower == prefix || strings.HasPrefix(lower, prefix+" ")
	}

	return strings.EqualFold(p, norm)
}
