package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "telemetry.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_UpsertAndGetTopTerms(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"retrieval": 5, "markdown": 2}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"retrieval": 3}))

	terms, err := store.GetTopTerms(10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "retrieval", terms[0].Term)
	assert.Equal(t, int64(8), terms[0].Count)
}

func TestSQLiteStore_AddZeroResultQuery_TrimsTo100(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 105; i++ {
		require.NoError(t, store.AddZeroResultQuery("q", time.Now()))
	}

	queries, err := store.GetZeroResultQueries(200)
	require.NoError(t, err)
	assert.Len(t, queries, 100)
}

func TestSQLiteStore_SaveAndGetLatencyCounts(t *testing.T) {
	store := setupTestStore(t)

	today := time.Now().Format("2006-01-02")
	require.NoError(t, store.SaveLatencyCounts(today, map[LatencyBucket]int64{
		LatencyP10: 4,
		LatencyP50: 1,
	}))
	require.NoError(t, store.SaveLatencyCounts(today, map[LatencyBucket]int64{
		LatencyP10: 1,
	}))

	counts, err := store.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[LatencyP10])
	assert.Equal(t, int64(1), counts[LatencyP50])
}
