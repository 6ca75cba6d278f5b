package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageSnapshot(t *testing.T, mgr *Manager, id string, withOutline bool) {
	t.Helper()
	dir, err := mgr.CreateSnapshot(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, metaFileName), []byte("db"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, bm25DirName), 0755))
	if withOutline {
		require.NoError(t, os.WriteFile(filepath.Join(dir, outlineName), []byte("ann"), 0644))
	}

	manifest := Manifest{Scope: ScopeFull, Stats: Stats{Docs: 1, Nodes: 1}}
	if !withOutline {
		manifest.Stats.Nodes = 0
	}
	require.NoError(t, mgr.Finalize(id, manifest))
}

func TestManager_CreateFinalizeActivate(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	stageSnapshot(t, mgr, "snap1", true)
	require.NoError(t, mgr.Activate("snap1"))

	current, err := mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, "snap1", current)
}

func TestManager_Validate_MissingFilesReturnsCorrupt(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	dir, err := mgr.CreateSnapshot("bad1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, metaFileName), []byte("db"), 0644))
	require.NoError(t, os.Rename(dir, mgr.snapshotDir("bad1")))
	require.NoError(t, os.WriteFile(mgr.manifestPath("bad1"), []byte(`{"snapshotId":"bad1","stats":{"nodes":0}}`), 0644))

	err = mgr.Validate("bad1")
	assert.Error(t, err)
}

func TestManager_ListSnapshots_ExcludesStaging(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	stageSnapshot(t, mgr, "snap1", true)
	_, err := mgr.CreateSnapshot("snap2")
	require.NoError(t, err)

	ids, err := mgr.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{"snap1"}, ids)
}

func TestManager_Rollback_ActivatesOlderValidSnapshot(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	stageSnapshot(t, mgr, "snap1", true)
	stageSnapshot(t, mgr, "snap2", true)
	require.NoError(t, mgr.Activate("snap2"))

	rolled, err := mgr.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "snap1", rolled)

	current, err := mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, "snap1", current)
}

func TestManager_CleanupOldSnapshots_KeepsActiveAndRecent(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 2)
	require.NoError(t, mgr.Ensure())

	for _, id := range []string{"snap1", "snap2", "snap3"} {
		stageSnapshot(t, mgr, id, true)
	}
	require.NoError(t, mgr.Activate("snap1"))

	require.NoError(t, mgr.CleanupOldSnapshots())

	ids, err := mgr.ListSnapshots()
	require.NoError(t, err)
	assert.Contains(t, ids, "snap1")
	assert.Len(t, ids, 2)
}

func TestManager_Recover_RemovesStrayStagingAndFallsBackToValid(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	stageSnapshot(t, mgr, "snap1", true)
	require.NoError(t, mgr.Activate("snap1"))

	_, err := mgr.CreateSnapshot("orphan")
	require.NoError(t, err)
	assert.DirExists(t, mgr.stagingDir("orphan"))

	require.NoError(t, os.WriteFile(mgr.currentPath(), []byte("does-not-exist"), 0644))

	recovered, err := mgr.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snap1", recovered)
	assert.NoDirExists(t, mgr.stagingDir("orphan"))
}

func TestManager_Recover_EmptyVaultYieldsNoSnapshot(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, 3)
	require.NoError(t, mgr.Ensure())

	recovered, err := mgr.Recover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)
}

func TestNewSnapshotID_IsLexicallyOrderedByTime(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	id1 := NewSnapshotID(t1)
	id2 := NewSnapshotID(t2)
	assert.Less(t, id1, id2)
}
