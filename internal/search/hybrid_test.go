package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHybridScorer_RejectsWeightsNotSummingToOne(t *testing.T) {
	_, err := NewHybridScorer(0.5, 0.2)
	assert.Error(t, err)
}

func TestHybridScorer_FuseMatchesSpecExample(t *testing.T) {
	scorer, err := NewHybridScorer(0.7, 0.3)
	require.NoError(t, err)

	fused := scorer.Fuse(
		[]VectorCandidate{{LeafID: "l1", VScore: 0.5}, {LeafID: "l2", VScore: 0.9}},
		[]BM25Candidate{{LeafID: "l1", BScore: 0.9}, {LeafID: "l2", BScore: 0.1}},
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "l2", fused[0].LeafID)
	assert.InDelta(t, 0.66, fused[0].Score, 1e-9)
	assert.Equal(t, "l1", fused[1].LeafID)
	assert.InDelta(t, 0.62, fused[1].Score, 1e-9)
}

func TestHybridScorer_TieBreaksAscendingByLeafID(t *testing.T) {
	scorer, err := NewHybridScorer(0.75, 0.25)
	require.NoError(t, err)

	fused := scorer.Fuse(
		[]VectorCandidate{{LeafID: "b", VScore: 0.5}, {LeafID: "a", VScore: 0.5}},
		nil,
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].LeafID)
	assert.Equal(t, "b", fused[1].LeafID)
}

func TestHybridScorer_BM25OnlyFallsBackToCachedVectorScore(t *testing.T) {
	scorer, err := NewHybridScorer(0.75, 0.25)
	require.NoError(t, err)

	cached := 0.4
	fused := scorer.Fuse(nil, []BM25Candidate{{LeafID: "l1", BScore: 0.8, CachedV: &cached}})
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.75*0.4+0.25*0.8, fused[0].Score, 1e-9)
}

func TestHybridScorer_VectorOnlyTreatsMissingBM25AsZero(t *testing.T) {
	scorer, err := NewHybridScorer(0.75, 0.25)
	require.NoError(t, err)

	fused := scorer.Fuse([]VectorCandidate{{LeafID: "l1", VScore: 0.8}}, nil)
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.75*0.8, fused[0].Score, 1e-9)
}
