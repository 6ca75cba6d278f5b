package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridWatcher_DetectsCreateAndModify(t *testing.T) {
	root := t.TempDir()

	w, err := NewHybridWatcher(Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, root))
	defer func() { _ = w.Stop() }()

	time.Sleep(50 * time.Millisecond) // let the watcher settle before the write

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# Note"), 0o644))

	select {
	case batch := <-w.Batches():
		require.Len(t, batch, 1)
		assert.Equal(t, "note.md", batch[0].Path)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestHybridWatcher_IgnoresNonMarkdown(t *testing.T) {
	root := t.TempDir()
	w, err := NewHybridWatcher(Options{DebounceWindow: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, root))
	defer func() { _ = w.Stop() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("hi"), 0o644))

	select {
	case batch := <-w.Batches():
		t.Fatalf("expected no batch for non-markdown file, got %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHybridWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewHybridWatcher(Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), t.TempDir()))
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
