package markdown

import (
	"regexp"
	"strings"

	"github.com/ostanlabs/msrl/internal/idhash"
)

// HeadingSeparator is the Unicode arrow (U+2192) joining ancestor titles
// into a headingPath, per spec §3.
const HeadingSeparator = " → "

var atxHeadingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Node is one node of the heading tree: the virtual root has Level 0 and an
// empty Title; all others are ATX headings.
type Node struct {
	ID          string
	Level       int
	Title       string
	HeadingPath string
	StartChar   int
	EndChar     int
	Children    []*Node
}

// Parse builds the heading tree for docURI's normalized text, per spec §4.2.
// Only ATX headings on lines outside a fenced region are recognized.
func Parse(docURI, text string) *Node {
	fences := DetectFences(text)
	lines := splitLines(text)

	root := &Node{Level: 0, HeadingPath: "", StartChar: 0, EndChar: len(text)}
	root.ID = idhash.TruncatedHash(docURI, root.HeadingPath)
	stack := []*Node{root}

	for _, ln := range lines {
		if Inside(fences, ln.start) {
			continue
		}
		trimmed := strings.TrimSuffix(ln.text, "\n")
		match := atxHeadingRegex.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}
		level := len(match[1])
		title := strings.TrimSpace(match[2])

		for len(stack) > 1 && stack[len(stack)-1].Level >= level {
			stack[len(stack)-1].EndChar = ln.start
			stack = stack[:len(stack)-1]
		}

		parent := stack[len(stack)-1]
		headingPath := title
		if parent.HeadingPath != "" {
			headingPath = parent.HeadingPath + HeadingSeparator + title
		}

		node := &Node{
			Level:       level,
			Title:       title,
			HeadingPath: headingPath,
			StartChar:   ln.start,
			EndChar:     len(text),
		}
		node.ID = idhash.TruncatedHash(docURI, node.HeadingPath)

		parent.Children = append(parent.Children, node)
		stack = append(stack, node)
	}

	for _, n := range stack {
		n.EndChar = len(text)
	}

	return root
}

// OwnContentRange returns the half-open range of n's own content: from the
// end of its heading line to the start of its first child (or its EndChar).
// The virtual root's own content starts at character 0.
func (n *Node) OwnContentRange(text string) (int, int) {
	start := n.StartChar
	if n.Level > 0 {
		if idx := strings.IndexByte(text[n.StartChar:n.EndChar], '\n'); idx >= 0 {
			start = n.StartChar + idx + 1
		} else {
			start = n.EndChar
		}
	}
	end := n.EndChar
	if len(n.Children) > 0 {
		end = n.Children[0].StartChar
	}
	if end < start {
		end = start
	}
	return start, end
}

// Walk visits n and every descendant in document order.
func (n *Node) Walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}
