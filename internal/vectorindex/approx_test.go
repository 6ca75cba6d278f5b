package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproxIndex_SearchFindsNearestNeighbor(t *testing.T) {
	idx := NewApproxIndex(3)
	require.NoError(t, idx.Add(
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	))

	results, err := idx.Search([]float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestApproxIndex_SaveLoadRoundTrips(t *testing.T) {
	idx := NewApproxIndex(2)
	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))

	path := filepath.Join(t.TempDir(), "approx.idx")
	require.NoError(t, idx.Save(path))

	loaded := NewApproxIndex(2)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Len())
}

func TestNewLeafShardIndex_PicksFlatBelowThresholdAndApproxAbove(t *testing.T) {
	small := NewLeafShardIndex(10, 4)
	_, isFlat := small.(*FlatIndex)
	assert.True(t, isFlat)

	large := NewLeafShardIndex(5000, 4)
	_, isApprox := large.(*ApproxIndex)
	assert.True(t, isApprox)
}
