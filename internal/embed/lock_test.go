package embed

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_LockAndUnlock(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLock(dir)

	require.NoError(t, l.Lock())
	assert.True(t, l.IsLocked())
	assert.Equal(t, filepath.Join(dir, ".download.lock"), l.Path())

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
}

func TestFileLock_TryLockFailsWhenHeld(t *testing.T) {
	dir := t.TempDir()
	first := NewFileLock(dir)
	require.NoError(t, first.Lock())
	defer first.Unlock()

	second := NewFileLock(dir)
	acquired, err := second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestFileLock_UnlockIsIdempotent(t *testing.T) {
	l := NewFileLock(t.TempDir())
	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())
}
