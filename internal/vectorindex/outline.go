package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Outline is the C7 OutlineIndex: HNSW over heading-node vectors plus a
// nodeId -> set<shardId> mapping, used to route queries to a bounded set
// of candidate shards, per spec §4.7. Not trained.
type Outline struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	idMap  map[string]uint64
	keyMap map[uint64]string
	shards map[string]map[uint32]struct{}
	next   uint64
	closed bool
}

// NewOutline creates an outline index with the spec's fixed parameters:
// M=32, efConstruction=200 (coder/hnsw does not expose efConstruction as a
// separate knob; Ml is set to 0.25, the library's default level
// multiplier), efSearch=64.
func NewOutline(dimensions int) *Outline {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 32
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &Outline{
		graph:  graph,
		dims:   dimensions,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		shards: make(map[string]map[uint32]struct{}),
	}
}

// Add inserts or updates a heading node's vector and its descendant shard
// set.
func (o *Outline) Add(nodeID string, vector []float32, shardIDs []uint32) error {
	if len(vector) != o.dims {
		return ErrDimensionMismatch{Expected: o.dims, Got: len(vector)}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("outline index is closed")
	}

	if existing, ok := o.idMap[nodeID]; ok {
		delete(o.keyMap, existing)
		delete(o.idMap, nodeID)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	key := o.next
	o.next++
	o.graph.Add(hnsw.MakeNode(key, vec))
	o.idMap[nodeID] = key
	o.keyMap[key] = nodeID

	set := make(map[uint32]struct{}, len(shardIDs))
	for _, s := range shardIDs {
		set[s] = struct{}{}
	}
	o.shards[nodeID] = set
	return nil
}

// Route searches the top topNodes heading nodes for queryVec, collects
// their shard sets, deduplicates, and truncates to maxShards, per spec
// §4.7.
func (o *Outline) Route(queryVec []float32, topNodes, maxShards int) ([]uint32, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, fmt.Errorf("outline index is closed")
	}
	if len(queryVec) != o.dims {
		return nil, ErrDimensionMismatch{Expected: o.dims, Got: len(queryVec)}
	}
	if o.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(queryVec))
	copy(q, queryVec)
	normalizeInPlace(q)

	nodes := o.graph.Search(q, topNodes)

	seen := make(map[uint32]struct{})
	var ordered []uint32
	for _, n := range nodes {
		nodeID, ok := o.keyMap[n.Key]
		if !ok {
			continue
		}
		for shardID := range o.shards[nodeID] {
			if _, dup := seen[shardID]; dup {
				continue
			}
			seen[shardID] = struct{}{}
			ordered = append(ordered, shardID)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	if len(ordered) > maxShards {
		ordered = ordered[:maxShards]
	}
	return ordered, nil
}

func (o *Outline) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.idMap)
}

type outlineMeta struct {
	Dims   int
	IDMap  map[string]uint64
	Next   uint64
	Shards map[string]map[uint32]struct{}
}

func (o *Outline) Save(path string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create outline index file: %w", err)
	}
	if err := o.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close outline index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename outline index file: %w", err)
	}
	return o.saveMeta(path + ".meta")
}

func (o *Outline) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create outline meta file: %w", err)
	}
	meta := outlineMeta{Dims: o.dims, IDMap: o.idMap, Next: o.next, Shards: o.shards}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode outline meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close outline meta file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (o *Outline) Load(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.loadMeta(path + ".meta"); err != nil {
		return fmt.Errorf("load outline meta: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open outline index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := o.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (o *Outline) loadMeta(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open outline meta file: %w", err)
	}
	defer file.Close()

	var meta outlineMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode outline meta: %w", err)
	}
	o.dims = meta.Dims
	o.idMap = meta.IDMap
	o.next = meta.Next
	o.shards = meta.Shards
	o.keyMap = make(map[uint64]string, len(o.idMap))
	for id, key := range o.idMap {
		o.keyMap[key] = id
	}
	return nil
}

func (o *Outline) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.graph = nil
	return nil
}
