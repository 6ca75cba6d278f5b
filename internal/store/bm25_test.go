package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBM25Index(t *testing.T) *BleveBM25Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := OpenBM25Index(filepath.Join(dir, "bm25.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBM25_IndexAndSearchRanksByRelevance(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{
		{LeafID: "l1", ShardID: 0, Text: "the quick brown fox jumps over the lazy dog"},
		{LeafID: "l2", ShardID: 0, Text: "fox fox fox everywhere you look, a fox"},
		{LeafID: "l3", ShardID: 0, Text: "completely unrelated content about oceans"},
	}))

	results, err := idx.Search(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "l2", results[0].LeafID)
	assert.Equal(t, "l1", results[1].LeafID)
}

func TestBM25_NormalizedScoreIsOneForTopHit(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{
		{LeafID: "l1", ShardID: 0, Text: "alpha beta gamma"},
		{LeafID: "l2", ShardID: 0, Text: "alpha alpha alpha beta"},
	}))

	results, err := idx.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, 1.0, results[0].NormalizedScore, 1e-9)
	assert.True(t, results[0].RawRank <= results[len(results)-1].RawRank)
}

func TestBM25_SearchInShardsRestrictsByShard(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{
		{LeafID: "l1", ShardID: 1, Text: "matching term appears here"},
		{LeafID: "l2", ShardID: 2, Text: "matching term appears here too"},
	}))

	results, err := idx.SearchInShards(ctx, "matching", []uint32{1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "l1", results[0].LeafID)
}

func TestBM25_DeleteRemovesDocument(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{{LeafID: "l1", Text: "findable term"}}))
	results, err := idx.Search(ctx, "findable", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, idx.Delete(ctx, []string{"l1"}))
	results, err = idx.Search(ctx, "findable", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25_QuerySplitsOnWhitespaceAndStripsQuotes(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{
		{LeafID: "l1", Text: "apples and oranges"},
		{LeafID: "l2", Text: "bananas only"},
	}))

	results, err := idx.Search(ctx, `"apples" bananas`, 10)
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.LeafID
	}
	assert.ElementsMatch(t, []string{"l1", "l2"}, ids)
}

func TestBM25_AllLeafIDsAndStats(t *testing.T) {
	idx := newTestBM25Index(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []Document{
		{LeafID: "l1", Text: "one"},
		{LeafID: "l2", Text: "two"},
	}))

	ids, err := idx.AllLeafIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "l2"}, ids)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
}
