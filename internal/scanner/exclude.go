package scanner

import (
	"regexp"
	"strings"
	"sync"
)

// excludeMatcher matches vault-relative POSIX paths against a flat list of
// glob patterns. Adapted from the teacher's gitignore pattern compiler,
// trimmed to the subset a vault actually needs: no negation, no nested
// per-directory bases (a vault is not assumed to be a git repo), since
// SPEC_FULL §9 only calls for a simple exclude-glob list.
type excludeMatcher struct {
	mu       sync.RWMutex
	regexes  []*regexp.Regexp
}

func newExcludeMatcher(patterns []string) *excludeMatcher {
	m := &excludeMatcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m.regexes = append(m.regexes, regexp.MustCompile("^"+globToRegex(p)+"$"))
	}
	return m
}

// Match reports whether docURI (vault-relative, forward slashes) matches
// any configured exclude glob.
func (m *excludeMatcher) Match(docURI string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, re := range m.regexes {
		if re.MatchString(docURI) {
			return true
		}
	}
	return false
}

// globToRegex converts a gitignore-style glob (*, **, ?) to a regex string.
func globToRegex(pattern string) string {
	var b strings.Builder
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i += 2
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '.', '+', '^', '$', '(', ')', '{', '}', '|', '[', ']', '\\':
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		default:
			b.WriteString(string(c))
			i++
		}
	}
	return b.String()
}
