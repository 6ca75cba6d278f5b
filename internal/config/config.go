// Package config loads and validates engine configuration, following the
// teacher's three-tier precedence: hardcoded defaults, then a YAML file,
// then environment variable overrides (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	msrlerrors "github.com/ostanlabs/msrl/internal/errors"
)

// Config is the engine's complete configuration, field names matching the
// spec's Configuration section exactly.
type Config struct {
	VaultRoot   string          `yaml:"vaultRoot" json:"vaultRoot"`
	SnapshotDir string          `yaml:"snapshotDir" json:"snapshotDir"`
	Embedding   EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking    ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Sharding    ShardingConfig  `yaml:"sharding" json:"sharding"`
	Retrieval   RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Faiss       FaissConfig     `yaml:"faiss" json:"faiss"`
	Watcher     WatcherConfig   `yaml:"watcher" json:"watcher"`
	LogLevel    string          `yaml:"logLevel" json:"logLevel"`
}

type EmbeddingConfig struct {
	ModelPath          string `yaml:"modelPath" json:"modelPath"`
	TokenizerPath      string `yaml:"tokenizerPath" json:"tokenizerPath"`
	MaxSequenceLength  int    `yaml:"maxSequenceLength" json:"maxSequenceLength"`
	NumThreads         int    `yaml:"numThreads" json:"numThreads"`
	BatchSize          int    `yaml:"batchSize" json:"batchSize"`
}

type ChunkingConfig struct {
	TargetMin    int `yaml:"targetMin" json:"targetMin"`
	TargetMax    int `yaml:"targetMax" json:"targetMax"`
	HardMax      int `yaml:"hardMax" json:"hardMax"`
	MinPreferred int `yaml:"minPreferred" json:"minPreferred"`
	Overlap      int `yaml:"overlap" json:"overlap"`
}

type ShardingConfig struct {
	ShardCount        int `yaml:"shardCount" json:"shardCount"`
	MaxShardsPerQuery int `yaml:"maxShardsPerQuery" json:"maxShardsPerQuery"`
}

type RetrievalConfig struct {
	VectorWeight           float64 `yaml:"vectorWeight" json:"vectorWeight"`
	BM25Weight             float64 `yaml:"bm25Weight" json:"bm25Weight"`
	DefaultTopK            int     `yaml:"defaultTopK" json:"defaultTopK"`
	MaxTopK                int     `yaml:"maxTopK" json:"maxTopK"`
	DefaultMaxExcerptChars int     `yaml:"defaultMaxExcerptChars" json:"defaultMaxExcerptChars"`
	MaxMaxExcerptChars     int     `yaml:"maxMaxExcerptChars" json:"maxMaxExcerptChars"`
	SpanMergeGapThreshold  int     `yaml:"spanMergeGapThreshold" json:"spanMergeGapThreshold"`
}

type FaissConfig struct {
	MaxCachedShards int `yaml:"maxCachedShards" json:"maxCachedShards"`
	IVFPQThreshold  int `yaml:"ivfpqThreshold" json:"ivfpqThreshold"`
	Nprobe          int `yaml:"nprobe" json:"nprobe"`
}

type WatcherConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	DebounceMs  int  `yaml:"debounceMs" json:"debounceMs"`
}

// Default returns the configuration with every default from spec §6 applied,
// for the given vault root.
func Default(vaultRoot string) *Config {
	return &Config{
		VaultRoot:   vaultRoot,
		SnapshotDir: filepath.Join(vaultRoot, ".msrl"),
		Embedding: EmbeddingConfig{
			MaxSequenceLength: 8192,
			NumThreads:        4,
			BatchSize:         32,
		},
		Chunking: ChunkingConfig{
			TargetMin:    600,
			TargetMax:    1000,
			HardMax:      1200,
			MinPreferred: 200,
			Overlap:      100,
		},
		Sharding: ShardingConfig{
			ShardCount:        128,
			MaxShardsPerQuery: 16,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:           0.75,
			BM25Weight:             0.25,
			DefaultTopK:            8,
			MaxTopK:                50,
			DefaultMaxExcerptChars: 4000,
			MaxMaxExcerptChars:     20000,
			SpanMergeGapThreshold:  200,
		},
		Faiss: FaissConfig{
			MaxCachedShards: 16,
			IVFPQThreshold:  1000,
			Nprobe:          16,
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 2000,
		},
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, an optional YAML file at
// <vaultRoot>/.msrl.yaml, and MSRL_* environment overrides, in that order
// of increasing precedence, then validates the result.
func Load(vaultRoot string) (*Config, error) {
	if vaultRoot == "" {
		return nil, msrlerrors.InvalidArgument("vaultRoot", vaultRoot, "must not be empty")
	}
	cfg := Default(vaultRoot)

	yamlPath := filepath.Join(vaultRoot, ".msrl.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, msrlerrors.Wrap(msrlerrors.ErrCodeInvalidArgument, fmt.Errorf("parsing %s: %w", yamlPath, err))
		}
	} else if !os.IsNotExist(err) {
		return nil, msrlerrors.IOError(yamlPath, "read", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MSRL_VAULT_ROOT"); v != "" {
		c.VaultRoot = v
	}
	if v := os.Getenv("MSRL_SNAPSHOT_DIR"); v != "" {
		c.SnapshotDir = v
	}
	if v := os.Getenv("MSRL_MODEL_PATH"); v != "" {
		c.Embedding.ModelPath = v
	}
	if v := os.Getenv("MSRL_EMBEDDING_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.NumThreads = n
		}
	}
	if v := os.Getenv("MSRL_WATCHER_ENABLED"); v != "" {
		c.Watcher.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MSRL_WATCHER_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watcher.DebounceMs = n
		}
	}
	if v := os.Getenv("MSRL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks field ranges and weight invariants, returning an
// INVALID_ARGUMENT error with field/value/reason detail on the first failure.
func (c *Config) Validate() error {
	if c.VaultRoot == "" {
		return msrlerrors.InvalidArgument("vaultRoot", c.VaultRoot, "must not be empty")
	}
	if info, err := os.Stat(c.VaultRoot); err != nil || !info.IsDir() {
		return msrlerrors.InvalidArgument("vaultRoot", c.VaultRoot, "must be an existing directory")
	}
	if c.Chunking.TargetMin <= 0 || c.Chunking.TargetMax < c.Chunking.TargetMin || c.Chunking.HardMax < c.Chunking.TargetMax {
		return msrlerrors.InvalidArgument("chunking", c.Chunking, "requires 0 < targetMin <= targetMax <= hardMax")
	}
	if c.Sharding.ShardCount <= 0 {
		return msrlerrors.InvalidArgument("sharding.shardCount", c.Sharding.ShardCount, "must be positive")
	}
	sum := c.Retrieval.VectorWeight + c.Retrieval.BM25Weight
	if sum < 0.999 || sum > 1.001 {
		return msrlerrors.InvalidArgument("retrieval.vectorWeight+bm25Weight", sum, "must sum to 1.0")
	}
	if c.Retrieval.DefaultTopK < 1 || c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return msrlerrors.InvalidArgument("retrieval.defaultTopK", c.Retrieval.DefaultTopK, "must be in [1, maxTopK]")
	}
	if c.Retrieval.DefaultMaxExcerptChars < 200 || c.Retrieval.DefaultMaxExcerptChars > c.Retrieval.MaxMaxExcerptChars {
		return msrlerrors.InvalidArgument("retrieval.defaultMaxExcerptChars", c.Retrieval.DefaultMaxExcerptChars, "must be in [200, maxMaxExcerptChars]")
	}
	if c.Watcher.DebounceMs != 0 && c.Watcher.DebounceMs < 100 {
		return msrlerrors.InvalidArgument("watcher.debounceMs", c.Watcher.DebounceMs, "must be >= 100ms")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return msrlerrors.InvalidArgument("logLevel", c.LogLevel, "must be one of debug,info,warn,error")
	}
	return nil
}
