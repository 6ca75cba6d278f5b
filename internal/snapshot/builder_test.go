package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostanlabs/msrl/internal/chunk"
	"github.com/ostanlabs/msrl/internal/embed"
	"github.com/ostanlabs/msrl/internal/scanner"
)

func writeVaultFile(t *testing.T, vaultRoot, docURI, content string) {
	t.Helper()
	path := filepath.Join(vaultRoot, filepath.FromSlash(docURI))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuilder_BuildFull_IndexesAllFiles(t *testing.T) {
	vaultRoot := t.TempDir()
	writeVaultFile(t, vaultRoot, "a.md", "# Title\n\nSome body content for a.\n")
	writeVaultFile(t, vaultRoot, "sub/b.md", "# Other\n\nSome body content for b.\n")

	stagingDir := t.TempDir()
	b := NewBuilder(vaultRoot, embed.NewStaticEmbedder(), chunk.DefaultConfig(), 8)

	manifest, err := b.BuildFull(context.Background(), stagingDir, []scanner.FileInfo{
		{DocURI: "a.md", Size: 30, MtimeMs: 1},
		{DocURI: "sub/b.md", Size: 30, MtimeMs: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, ScopeFull, manifest.Scope)
	assert.Equal(t, 0, manifest.FilesFailed)
	assert.Equal(t, 2, manifest.Stats.Docs)
	assert.GreaterOrEqual(t, manifest.Stats.Nodes, 2)
	assert.GreaterOrEqual(t, manifest.Stats.Leaves, 2)
	assert.Len(t, manifest.FileHashes, 2)

	assert.FileExists(t, filepath.Join(stagingDir, metaFileName))
	assert.DirExists(t, filepath.Join(stagingDir, bm25DirName))
	assert.FileExists(t, filepath.Join(stagingDir, outlineName))
}

func TestBuilder_BuildFull_MissingFileIncrementsFilesFailed(t *testing.T) {
	vaultRoot := t.TempDir()
	writeVaultFile(t, vaultRoot, "a.md", "# Title\n\nBody.\n")

	stagingDir := t.TempDir()
	b := NewBuilder(vaultRoot, embed.NewStaticEmbedder(), chunk.DefaultConfig(), 8)

	manifest, err := b.BuildFull(context.Background(), stagingDir, []scanner.FileInfo{
		{DocURI: "a.md", Size: 10, MtimeMs: 1},
		{DocURI: "missing.md", Size: 10, MtimeMs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.FilesFailed)
	assert.Equal(t, 1, manifest.Stats.Docs)
}

func TestBuilder_BuildIncremental_OnlyReembedsChangedDoc(t *testing.T) {
	vaultRoot := t.TempDir()
	writeVaultFile(t, vaultRoot, "a.md", "# Title\n\nOriginal body content for a.\n")
	writeVaultFile(t, vaultRoot, "b.md", "# Other\n\nUnrelated body content for b.\n")

	fullDir := t.TempDir()
	b := NewBuilder(vaultRoot, embed.NewStaticEmbedder(), chunk.DefaultConfig(), 8)
	_, err := b.BuildFull(context.Background(), fullDir, []scanner.FileInfo{
		{DocURI: "a.md", Size: 10, MtimeMs: 1},
		{DocURI: "b.md", Size: 10, MtimeMs: 1},
	})
	require.NoError(t, err)

	writeVaultFile(t, vaultRoot, "a.md", "# Title\n\nModified body content for a, now longer.\n")

	incDir := t.TempDir()
	manifest, err := b.BuildIncremental(context.Background(), fullDir, incDir,
		scanner.ChangeSet{Modified: []string{"a.md"}},
		[]scanner.FileInfo{{DocURI: "a.md", Size: 20, MtimeMs: 2}},
	)
	require.NoError(t, err)

	assert.Equal(t, ScopeIncremental, manifest.Scope)
	assert.Equal(t, 2, manifest.Stats.Docs)
	assert.FileExists(t, filepath.Join(incDir, metaFileName))
	assert.FileExists(t, filepath.Join(incDir, outlineName))
}

func TestBuilder_BuildIncremental_DeletedDocIsRemoved(t *testing.T) {
	vaultRoot := t.TempDir()
	writeVaultFile(t, vaultRoot, "a.md", "# Title\n\nBody a.\n")
	writeVaultFile(t, vaultRoot, "b.md", "# Other\n\nBody b.\n")

	fullDir := t.TempDir()
	b := NewBuilder(vaultRoot, embed.NewStaticEmbedder(), chunk.DefaultConfig(), 8)
	_, err := b.BuildFull(context.Background(), fullDir, []scanner.FileInfo{
		{DocURI: "a.md", Size: 10, MtimeMs: 1},
		{DocURI: "b.md", Size: 10, MtimeMs: 1},
	})
	require.NoError(t, err)

	incDir := t.TempDir()
	manifest, err := b.BuildIncremental(context.Background(), fullDir, incDir,
		scanner.ChangeSet{Deleted: []string{"b.md"}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Stats.Docs)
}
