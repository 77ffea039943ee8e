// Package pattern implements the matcher syntaxes used by shield policies:
// URL patterns, command patterns, filesystem patterns, and skill patterns.
// Each syntax is deliberately distinct; see the per-file doc comments.
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// globCache caches compiled glob regexps. Patterns come from the policy
// store, so the working set is small and stable between reloads.
var globCache sync.Map // string -> *regexp.Regexp

// compileGlob translates a glob pattern into an anchored, case-insensitive
// regexp. The dialect:
//
//	**  matches zero or more characters, including '/'
//	*   matches zero or more characters, excluding '/'
//	?   matches exactly one character, excluding '/'
//
// Every other regexp metacharacter is escaped literally.
func compileGlob(glob string) (*regexp.Regexp, error) {
	if cached, ok := globCache.Load(glob); ok {
		return cached.(*regexp.Regexp), nil
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	globCache.Store(glob, re)
	return re, nil
}

// matchGlob reports whether target matches the glob pattern.
// An uncompilable pattern matches nothing.
func matchGlob(glob, target string) bool {
	re, err := compileGlob(glob)
	if err != nil {
		return false
	}
	return re.MatchString(target)
}
