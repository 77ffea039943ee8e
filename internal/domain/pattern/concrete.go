package pattern

import "strings"

// ExtractConcrete filters filesystem patterns down to the concrete absolute
// paths a sandbox executor can deny without wildcard support.
//
// A pattern is concrete iff, after trimming whitespace and stripping a
// single trailing "/*" or "/**", it is absolute, carries no remaining '*'
// or '?', is not prefixed "**/" or "*/", and is neither empty nor "/".
//
// The result preserves first-seen order and drops duplicates. The function
// is idempotent: extracting an already-extracted list returns it unchanged.
func ExtractConcrete(patterns []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(patterns))

	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" || p == "/" {
			continue
		}
		if strings.HasPrefix(p, "**/") || strings.HasPrefix(p, "*/") {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			continue
		}

		if strings.HasSuffix(p, "/**") {
			p = p[:len(p)-3]
		} else if strings.HasSuffix(p, "/*") {
			p = p[:len(p)-2]
		}
		if p == "" || p == "/" {
			continue
		}
		if strings.ContainsAny(p, "*?") {
			continue
		}

		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
