package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_LowercasesAndSplitsOnPunctuation(t *testing.T) {
	tokens := Tokenize("Hello, World! This is msrl.")
	assert.Contains(t, tokens, "hello")
	assert.Contains(t, tokens, "world")
	assert.Contains(t, tokens, "msrl")
}

func TestSplitWordToken_SplitsSnakeCase(t *testing.T) {
	parts := SplitWordToken("node_embedder")
	assert.Contains(t, parts, "node_embedder")
	assert.Contains(t, parts, "node")
	assert.Contains(t, parts, "embedder")
}

func TestFilterStopWords_RemovesStopWordsPreservingOrder(t *testing.T) {
	stop := BuildStopWordMap(EnglishStopWords)
	out := FilterStopWords([]string{"the", "quick", "fox", "is", "fast"}, stop)
	assert.Equal(t, []string{"quick", "fox", "fast"}, out)
}
