package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIndex_SearchRanksByInnerProductDescending(t *testing.T) {
	idx := NewFlatIndex(3)
	require.NoError(t, idx.Add(
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
	))

	results, err := idx.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "b", results[2].ID)
}

func TestFlatIndex_AddingExistingIDUpdatesVector(t *testing.T) {
	idx := NewFlatIndex(2)
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, float32(1.0), results[0].Score, 1e-6)
}

func TestFlatIndex_RejectsWrongDimension(t *testing.T) {
	idx := NewFlatIndex(3)
	err := idx.Add([]string{"a"}, [][]float32{{1, 0}})
	assert.Error(t, err)
}

func TestFlatIndex_SaveLoadRoundTrips(t *testing.T) {
	idx := NewFlatIndex(2)
	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))

	path := filepath.Join(t.TempDir(), "flat.idx")
	require.NoError(t, idx.Save(path))

	loaded := NewFlatIndex(2)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Len())

	results, err := loaded.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}
