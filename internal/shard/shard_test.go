package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_IsDeterministic(t *testing.T) {
	a := For("notes/project.md")
	b := For("notes/project.md")
	assert.Equal(t, a, b)
}

func TestFor_IsWithinRange(t *testing.T) {
	uris := []string{"a.md", "folder/b.md", "", "unicode/héllo.md", "deep/nested/path/c.md"}
	for _, u := range uris {
		s := For(u)
		assert.Less(t, s, uint32(Count))
	}
}

func TestFor_KnownVector(t *testing.T) {
	// FNV-1a32("hello") = 0x4f9f2cab = 1335831723
	assert.Equal(t, uint32(1335831723)%Count, For("hello"))
}

func TestFor_DifferentInputsUsuallyDiffer(t *testing.T) {
	assert.NotEqual(t, For("doc-one.md"), For("doc-two.md"))
}
