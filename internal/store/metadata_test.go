package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenMetadataStore(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertDoc_IsIdempotentByURI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md", Mtime: 1, Size: 10, Hash: "h1"}))
	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md", Mtime: 2, Size: 20, Hash: "h2"}))

	got, err := s.GetDoc(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Mtime)
	assert.Equal(t, "h2", got.Hash)
}

func TestGetDoc_MissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDoc(context.Background(), "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDoc_CascadesToNodesAndLeaves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md", Mtime: 1, Size: 10, Hash: "h1"}))
	require.NoError(t, s.ReplaceNodes(ctx, "d1", []Node{{NodeID: "n1", DocID: "d1", Level: 1, HeadingPath: "Title"}}))
	require.NoError(t, s.ReplaceLeaves(ctx, "d1", []Leaf{{LeafID: "l1", DocID: "d1", NodeID: "n1", TextHash: "t1"}}))

	require.NoError(t, s.DeleteDoc(ctx, "d1"))

	nodes, err := s.NodesForDoc(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	leaves, err := s.LeavesForDoc(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestGetChangedDocs_DetectsAddedModifiedDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "kept.md", Mtime: 1, Size: 10, Hash: "h1"}))
	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d2", DocURI: "removed.md", Mtime: 1, Size: 10, Hash: "h1"}))
	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d3", DocURI: "changed.md", Mtime: 1, Size: 10, Hash: "h1"}))

	known := map[string]DocFingerprint{
		"kept.md":    {Mtime: 1, Hash: "h1"},
		"changed.md": {Mtime: 5, Hash: "h5"},
		"new.md":     {Mtime: 1, Hash: "hnew"},
	}
	changed, err := s.GetChangedDocs(ctx, known)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"new.md"}, changed.Added)
	assert.ElementsMatch(t, []string{"removed.md"}, changed.Deleted)
	assert.ElementsMatch(t, []string{"changed.md"}, changed.Modified)
}

func TestReplaceLeaves_CarriesForwardEmbeddingByTextHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md", Mtime: 1, Size: 10, Hash: "h1"}))
	require.NoError(t, s.ReplaceNodes(ctx, "d1", []Node{{NodeID: "n1", DocID: "d1"}}))

	vec := make([]float32, 1024)
	vec[0] = 0.5
	require.NoError(t, s.ReplaceLeaves(ctx, "d1", []Leaf{{LeafID: "l1", DocID: "d1", NodeID: "n1", TextHash: "same-hash", Embedding: vec}}))

	require.NoError(t, s.ReplaceLeaves(ctx, "d1", []Leaf{{LeafID: "l2", DocID: "d1", NodeID: "n1", TextHash: "same-hash"}}))

	leaves, err := s.LeavesForDoc(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	require.NotNil(t, leaves[0].Embedding)
	assert.Equal(t, float32(0.5), leaves[0].Embedding[0])
}

func TestSetEmbedding_RoundTripsThroughBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md"}))
	require.NoError(t, s.ReplaceNodes(ctx, "d1", []Node{{NodeID: "n1", DocID: "d1"}}))
	require.NoError(t, s.ReplaceLeaves(ctx, "d1", []Leaf{{LeafID: "l1", DocID: "d1", NodeID: "n1", TextHash: "t1"}}))

	vec := []float32{0.1, -0.2, 0.3}
	require.NoError(t, s.SetEmbedding(ctx, "l1", vec))

	leaves, err := s.LeavesByID(ctx, []string{"l1"})
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.InDeltaSlice(t, []float64{0.1, -0.2, 0.3}, toFloat64Slice(leaves[0].Embedding), 1e-6)
}

func toFloat64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func TestShardSizes_CountsLeavesPerShard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDoc(ctx, Doc{DocID: "d1", DocURI: "a.md"}))
	require.NoError(t, s.ReplaceNodes(ctx, "d1", []Node{{NodeID: "n1", DocID: "d1"}}))
	require.NoError(t, s.ReplaceLeaves(ctx, "d1", []Leaf{
		{LeafID: "l1", DocID: "d1", NodeID: "n1", TextHash: "t1", ShardID: 3},
		{LeafID: "l2", DocID: "d1", NodeID: "n1", TextHash: "t2", ShardID: 3},
		{LeafID: "l3", DocID: "d1", NodeID: "n1", TextHash: "t3", ShardID: 7},
	}))

	sizes, err := s.ShardSizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sizes[3])
	assert.Equal(t, 1, sizes[7])
}

func TestMeta_SetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetMeta(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetMeta(ctx, "snapshot_id", "v1"))
	require.NoError(t, s.SetMeta(ctx, "snapshot_id", "v2"))

	v, err := s.GetMeta(ctx, "snapshot_id")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}
