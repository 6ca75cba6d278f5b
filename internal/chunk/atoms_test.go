package chunk

import (
	"testing"

	"github.com/ostanlabs/msrl/internal/markdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAtoms_TileRangeWithNoGaps(t *testing.T) {
	text := markdown.Normalize([]byte("para one.\n\npara two.\n\n```\ncode\n```\n\npara three.\n"))
	fences := markdown.DetectFences(text)
	atoms := splitAtoms(text, 0, len(text), fences)

	require.NotEmpty(t, atoms)
	assert.Equal(t, 0, atoms[0].start)
	for i := 1; i < len(atoms); i++ {
		assert.Equal(t, atoms[i-1].end, atoms[i].start)
	}
	assert.Equal(t, len(text), atoms[len(atoms)-1].end)
}

func TestSplitAtoms_FenceIsOneWholeAtom(t *testing.T) {
	text := markdown.Normalize([]byte("before\n\n```\nfence body\n```\n\nafter\n"))
	fences := markdown.DetectFences(text)
	atoms := splitAtoms(text, 0, len(text), fences)

	var fenceAtoms int
	for _, a := range atoms {
		if a.isFence {
			fenceAtoms++
			assert.Equal(t, fences[0].Start, a.start)
			assert.Equal(t, fences[0].End, a.end)
		}
	}
	assert.Equal(t, 1, fenceAtoms)
}
