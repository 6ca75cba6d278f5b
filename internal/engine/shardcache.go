package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ostanlabs/msrl/internal/vectorindex"
)

// shardCache lazily loads per-shard ANN indexes from a snapshot's shards/
// directory into an LRU, per spec §5: "ANN library is assumed not to
// support memory mapping; cold shards are loaded from disk on first
// access", default 16 resident shards.
type shardCache struct {
	mu        sync.Mutex
	dataDir   string
	dims      int
	emptyIdx  vectorindex.Index
	cache     *lru.Cache[uint32, vectorindex.Index]
}

func newShardCache(dataDir string, maxResident, dims int) *shardCache {
	if maxResident <= 0 {
		maxResident = 16
	}
	c := &shardCache{dataDir: dataDir, dims: dims, emptyIdx: vectorindex.NewFlatIndex(dims)}
	cache, _ := lru.NewWithEvict[uint32, vectorindex.Index](maxResident, func(_ uint32, idx vectorindex.Index) {
		_ = idx.Close()
	})
	c.cache = cache
	return c
}

// Shard implements search.ShardIndexes.
func (c *shardCache) Shard(shardID uint32) (vectorindex.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.cache.Get(shardID); ok {
		return idx, nil
	}

	path := c.shardPath(shardID)
	// A ".meta" sidecar marks an ApproxIndex (HNSW); its absence means the
	// shard was saved as a FlatIndex (brute-force gob blob), per each
	// type's own Save convention.
	var idx vectorindex.Index
	if _, err := os.Stat(path + ".meta"); err == nil {
		idx = vectorindex.NewApproxIndex(c.dims)
	} else {
		idx = vectorindex.NewFlatIndex(c.dims)
	}
	if err := idx.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.emptyIdx, nil
		}
		return nil, fmt.Errorf("load shard %d: %w", shardID, err)
	}
	c.cache.Add(shardID, idx)
	return idx, nil
}

func (c *shardCache) shardPath(shardID uint32) string {
	return filepath.Join(c.dataDir, "shards", fmt.Sprintf("shard_%03d.ann", shardID))
}

func (c *shardCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, shardID := range c.cache.Keys() {
		if idx, ok := c.cache.Peek(shardID); ok {
			_ = idx.Close()
		}
	}
	c.cache.Purge()
}
