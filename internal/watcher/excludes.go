package watcher

import (
	"regexp"
	"strings"
)

// excludeSet mirrors the scanner's exclude semantics (directory names plus
// glob patterns matched against the vault-relative docUri) so the watcher
// and the scanner agree on what counts as part of the vault.
type excludeSet struct {
	dirs    []string
	regexes []*regexp.Regexp
}

func newExcludeSet(dirs, globs []string) *excludeSet {
	es := &excludeSet{dirs: append([]string{".git", "node_modules", ".msrl"}, dirs...)}
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		es.regexes = append(es.regexes, regexp.MustCompile("^"+globToRegex(g)+"$"))
	}
	return es
}

func (es *excludeSet) Match(docURI string) bool {
	for _, re := range es.regexes {
		if re.MatchString(docURI) {
			return true
		}
	}
	return false
}

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
