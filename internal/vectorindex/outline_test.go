package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutline_RouteCollectsAndDedupesShardSets(t *testing.T) {
	o := NewOutline(2)
	require.NoError(t, o.Add("n1", []float32{1, 0}, []uint32{1, 2}))
	require.NoError(t, o.Add("n2", []float32{0.9, 0.1}, []uint32{2, 3}))
	require.NoError(t, o.Add("n3", []float32{0, 1}, []uint32{9}))

	shards, err := o.Route([]float32{1, 0}, 2, 16)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, shards)
}

func TestOutline_RouteTruncatesToMaxShards(t *testing.T) {
	o := NewOutline(2)
	require.NoError(t, o.Add("n1", []float32{1, 0}, []uint32{1, 2, 3, 4, 5}))

	shards, err := o.Route([]float32{1, 0}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, shards, 2)
}

func TestOutline_SaveLoadPreservesShardMapping(t *testing.T) {
	o := NewOutline(2)
	require.NoError(t, o.Add("n1", []float32{1, 0}, []uint32{7}))

	path := filepath.Join(t.TempDir(), "outline.idx")
	require.NoError(t, o.Save(path))

	loaded := NewOutline(2)
	require.NoError(t, loaded.Load(path))

	shards, err := loaded.Route([]float32{1, 0}, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, shards)
}
