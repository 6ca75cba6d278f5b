package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFences_SimpleBacktickBlock(t *testing.T) {
	text := Normalize([]byte("intro\n```go\ncode here\n```\nafter\n"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
	assert.Equal(t, "go", regions[0].Lang)
	assert.Equal(t, text[regions[0].Start:regions[0].End], "```go\ncode here\n```\n")
}

func TestDetectFences_TildeBlock(t *testing.T) {
	text := Normalize([]byte("~~~\nraw\n~~~\n"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
}

func TestDetectFences_UnclosedExtendsToEOF(t *testing.T) {
	text := Normalize([]byte("```\nopen forever"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
	assert.Equal(t, len(text), regions[0].End)
}

func TestDetectFences_LongerClosingRunCloses(t *testing.T) {
	text := Normalize([]byte("```\nbody\n````\nafter\n"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
}

func TestDetectFences_ShorterRunDoesNotClose(t *testing.T) {
	text := Normalize([]byte("````\nbody\n```\nstill inside\n````\nafter\n"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
	assert.Contains(t, text[regions[0].Start:regions[0].End], "still inside")
}

func TestInside_BinarySearch(t *testing.T) {
	regions := []FenceRegion{{Start: 10, End: 20}, {Start: 30, End: 40}}
	assert.True(t, Inside(regions, 15))
	assert.False(t, Inside(regions, 25))
	assert.True(t, Inside(regions, 35))
	assert.False(t, Inside(regions, 45))
}

func TestDetectFences_IndentedFenceUpToThreeSpaces(t *testing.T) {
	text := Normalize([]byte("   ```\n  code\n   ```\nafter\n"))
	regions := DetectFences(text)
	require.Len(t, regions, 1)
}

func TestDetectFences_FourSpaceIndentIsNotAFence(t *testing.T) {
	text := Normalize([]byte("    ```\nnot a fence\n"))
	regions := DetectFences(text)
	assert.Empty(t, regions)
}
