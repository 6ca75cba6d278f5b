package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	msrlerrors "github.com/ostanlabs/msrl/internal/errors"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	assert.Equal(t, 128, cfg.Sharding.ShardCount)
	assert.Equal(t, 0.75, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.25, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 2000, cfg.Watcher.DebounceMs)
	assert.Equal(t, filepath.Join(dir, ".msrl"), cfg.SnapshotDir)
}

func TestLoad_AppliesYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "retrieval:\n  defaultTopK: 20\nwatcher:\n  debounceMs: 500\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".msrl.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 500, cfg.Watcher.DebounceMs)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".msrl.yaml"), []byte("watcher:\n  debounceMs: 500\nlogLevel: warn\n"), 0o644))
	t.Setenv("MSRL_WATCHER_DEBOUNCE_MS", "3000")
	t.Setenv("MSRL_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Watcher.DebounceMs)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Retrieval.VectorWeight = 0.5
	cfg.Retrieval.BM25Weight = 0.6

	err := cfg.Validate()
	require.Error(t, err)
	var ee *msrlerrors.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, msrlerrors.ErrCodeInvalidArgument, ee.Code)
}

func TestValidate_RejectsMissingVaultRoot(t *testing.T) {
	cfg := Default(filepath.Join(t.TempDir(), "does-not-exist"))
	err := cfg.Validate()
	require.Error(t, err)
}
