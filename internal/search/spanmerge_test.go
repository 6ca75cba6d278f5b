package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSpans_MergesOverlappingRunsInSameDoc(t *testing.T) {
	spans := []SpanCandidate{
		{DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5, LeafIDs: []string{"l1"}},
		{DocURI: "a.md", StartChar: 80, EndChar: 200, Score: 0.9, LeafIDs: []string{"l2"}},
	}
	merged := MergeSpans(spans, 0)
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].StartChar)
	assert.Equal(t, 200, merged[0].EndChar)
	assert.InDelta(t, 0.9, merged[0].Score, 1e-9)
	assert.ElementsMatch(t, []string{"l1", "l2"}, merged[0].LeafIDs)
}

func TestMergeSpans_RespectsGapThreshold(t *testing.T) {
	spans := []SpanCandidate{
		{DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5, LeafIDs: []string{"l1"}},
		{DocURI: "a.md", StartChar: 250, EndChar: 300, Score: 0.6, LeafIDs: []string{"l2"}},
	}
	assert.Len(t, MergeSpans(spans, 0), 2)
	assert.Len(t, MergeSpans(spans, 200), 1)
}

func TestMergeSpans_KeepsDifferentDocsSeparate(t *testing.T) {
	spans := []SpanCandidate{
		{DocURI: "a.md", StartChar: 0, EndChar: 50, Score: 0.9, LeafIDs: []string{"l1"}},
		{DocURI: "b.md", StartChar: 0, EndChar: 50, Score: 0.5, LeafIDs: []string{"l2"}},
	}
	merged := MergeSpans(spans, 0)
	require.Len(t, merged, 2)
	assert.Equal(t, "a.md", merged[0].DocURI)
	assert.Equal(t, "b.md", merged[1].DocURI)
}
