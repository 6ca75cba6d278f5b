package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVaultForCmd(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("# Title\n\nSome searchable content here.\n"), 0644))
	return root
}

func TestStatusCmd_BuildsIndexAndReportsReady(t *testing.T) {
	root := newTestVaultForCmd(t)
	vaultRoot = root
	defer func() { vaultRoot = "." }()

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "state:       ready")
	assert.Contains(t, buf.String(), "docs:        1")
}

func TestQueryCmd_ReturnsMatchingResult(t *testing.T) {
	root := newTestVaultForCmd(t)
	vaultRoot = root
	defer func() { vaultRoot = "." }()

	cmd := newQueryCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"searchable", "content"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "note.md")
}

func TestReindexCmd_FullRebuildReportsStats(t *testing.T) {
	root := newTestVaultForCmd(t)
	vaultRoot = root
	defer func() { vaultRoot = "." }()

	cmd := newReindexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--full"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "1 docs")
}
