package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BuildsNestedHeadingTree(t *testing.T) {
	text := Normalize([]byte("# Title\n\nIntro text.\n\n## Setup\n\nSetup body.\n\n### Details\n\nDetail body.\n\n## Usage\n\nUsage body.\n"))
	root := Parse("doc.md", text)

	require.Len(t, root.Children, 1)
	title := root.Children[0]
	assert.Equal(t, "Title", title.Title)
	assert.Equal(t, 1, title.Level)
	require.Len(t, title.Children, 2)

	setup := title.Children[0]
	assert.Equal(t, "Setup", setup.Title)
	assert.Equal(t, "Title → Setup", setup.HeadingPath)
	require.Len(t, setup.Children, 1)
	assert.Equal(t, "Title → Setup → Details", setup.Children[0].HeadingPath)

	usage := title.Children[1]
	assert.Equal(t, "Usage", usage.Title)
	assert.Empty(t, usage.Children)
}

func TestParse_SiblingRangesPartitionParent(t *testing.T) {
	text := Normalize([]byte("# A\n\nfoo\n\n## B\n\nbar\n\n## C\n\nbaz\n"))
	root := Parse("doc.md", text)
	a := root.Children[0]
	require.Len(t, a.Children, 2)
	b, c := a.Children[0], a.Children[1]

	assert.Equal(t, b.EndChar, c.StartChar)
	assert.Equal(t, c.EndChar, len(text))
	assert.Equal(t, a.EndChar, len(text))
}

func TestParse_HeadingInsideFenceIsIgnored(t *testing.T) {
	text := Normalize([]byte("# Real\n\n```\n# not a heading\n```\n\nafter\n"))
	root := Parse("doc.md", text)
	require.Len(t, root.Children, 1)
	assert.Empty(t, root.Children[0].Children)
}

func TestParse_NodeIDIsDeterministic(t *testing.T) {
	text := Normalize([]byte("# Same\n\nbody\n"))
	r1 := Parse("doc.md", text)
	r2 := Parse("doc.md", text)
	assert.Equal(t, r1.Children[0].ID, r2.Children[0].ID)
}

func TestOwnContentRange_ExcludesHeadingLineAndChildren(t *testing.T) {
	text := Normalize([]byte("# A\n\nown text\n\n## B\n\nchild text\n"))
	root := Parse("doc.md", text)
	a := root.Children[0]
	start, end := a.OwnContentRange(text)
	assert.Equal(t, "\nown text\n\n", text[start:end])
}

func TestWalk_VisitsInDocumentOrder(t *testing.T) {
	text := Normalize([]byte("# A\n\n## B\n\n## C\n"))
	root := Parse("doc.md", text)
	var titles []string
	root.Walk(func(n *Node) { titles = append(titles, n.Title) })
	assert.Equal(t, []string{"", "A", "B", "C"}, titles)
}
