package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractExcerpt_ReturnsWholeSliceWhenWithinLimit(t *testing.T) {
	e := ExtractExcerpt("hello world", 0, 11, 4000)
	assert.Equal(t, "hello world", e.Text)
	assert.False(t, e.Truncated)
}

func TestExtractExcerpt_TruncatesAtLatestSpaceInWindow(t *testing.T) {
	text := strings.Repeat("word ", 200)
	e := ExtractExcerpt(text, 0, len(text), 100)
	assert.True(t, e.Truncated)
	assert.LessOrEqual(t, len(e.Text), 100)
	assert.NotEqual(t, byte(' '), e.Text[len(e.Text)-1])
}

func TestExtractExcerpt_HardCutsWhenNoSpaceInWindow(t *testing.T) {
	text := strings.Repeat("x", 300)
	e := ExtractExcerpt(text, 0, len(text), 100)
	assert.True(t, e.Truncated)
	assert.Equal(t, 100, len(e.Text))
}

func TestExtractExcerpt_ClampsOutOfRangeOffsets(t *testing.T) {
	e := ExtractExcerpt("short", 0, 500, 4000)
	assert.Equal(t, "short", e.Text)
}
