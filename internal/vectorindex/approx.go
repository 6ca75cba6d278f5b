package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ApproxIndex is the approximate branch of LeafShardIndex used when a
// shard's size reaches IVFPQThreshold, per spec §4.6. The spec calls for
// IVFPQ (nlist/m/nbits/nprobe) there, but coder/hnsw — this module's only
// vetted pure-Go ANN library — implements HNSW, not IVFPQ; we substitute
// HNSW with the library's own M/EfSearch knobs, documented as a deliberate
// deviation. Train is a no-op: HNSW builds incrementally via Add.
type ApproxIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	idMap  map[string]uint64
	keyMap map[uint64]string
	next   uint64
	closed bool
}

// approxMeta is the persisted ID-mapping side-car for ApproxIndex.
type approxMeta struct {
	Dims  int
	IDMap map[string]uint64
	Next  uint64
}

// NewApproxIndex creates an HNSW-backed shard index, grounded on the
// teacher's HNSWStore: M=16 (coder/hnsw's own recommended default; the
// spec's M=32/efConstruction=200 figures are reserved for the OutlineIndex,
// a much smaller single graph over heading nodes rather than per-shard leaf
// graphs), EfSearch=64 per spec's nprobe-equivalent recall preference.
func NewApproxIndex(dimensions int) *ApproxIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &ApproxIndex{
		graph:  graph,
		dims:   dimensions,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (a *ApproxIndex) Train(_ [][]float32) error { return nil }

func (a *ApproxIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("approx index: ids/vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("approx index is closed")
	}

	for i, id := range ids {
		v := vectors[i]
		if len(v) != a.dims {
			return ErrDimensionMismatch{Expected: a.dims, Got: len(v)}
		}
		vec := make([]float32, len(v))
		copy(vec, v)
		normalizeInPlace(vec)

		if existing, ok := a.idMap[id]; ok {
			// Lazy update: orphan the old key rather than deleting from
			// the graph, matching the teacher's workaround for
			// coder/hnsw's last-node-delete bug.
			delete(a.keyMap, existing)
			delete(a.idMap, id)
		}

		key := a.next
		a.next++
		a.graph.Add(hnsw.MakeNode(key, vec))
		a.idMap[id] = key
		a.keyMap[key] = id
	}
	return nil
}

func (a *ApproxIndex) Search(query []float32, k int) ([]Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, fmt.Errorf("approx index is closed")
	}
	if len(query) != a.dims {
		return nil, ErrDimensionMismatch{Expected: a.dims, Got: len(query)}
	}
	if a.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := a.graph.Search(q, k)
	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		id, ok := a.keyMap[n.Key]
		if !ok {
			continue
		}
		dist := a.graph.Distance(q, n.Value)
		results = append(results, Result{ID: id, Score: 1 - dist})
	}
	return results, nil
}

func (a *ApproxIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.idMap)
}

func (a *ApproxIndex) Save(path string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create approx index file: %w", err)
	}
	if err := a.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close approx index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename approx index file: %w", err)
	}
	return a.saveMeta(path + ".meta")
}

func (a *ApproxIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create meta file: %w", err)
	}
	meta := approxMeta{Dims: a.dims, IDMap: a.idMap, Next: a.next}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close meta file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (a *ApproxIndex) Load(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.loadMeta(path + ".meta"); err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open approx index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := a.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (a *ApproxIndex) loadMeta(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer file.Close()

	var meta approxMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode meta: %w", err)
	}
	a.dims = meta.Dims
	a.idMap = meta.IDMap
	a.next = meta.Next
	a.keyMap = make(map[uint64]string, len(a.idMap))
	for id, key := range a.idMap {
		a.keyMap[key] = id
	}
	return nil
}

func (a *ApproxIndex) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.graph = nil
	return nil
}

var _ Index = (*ApproxIndex)(nil)
