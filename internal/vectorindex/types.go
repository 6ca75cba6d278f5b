// Package vectorindex implements the LeafShardIndex (C6) and OutlineIndex
// (C7): the ANN layer over leaf and heading-node embeddings, per spec
// §4.6-4.7.
package vectorindex

import (
	"fmt"
	"math"
)

// IVFPQThreshold is the shard-size cutoff above which LeafShardIndex
// switches from an exact brute-force index to an approximate one, per spec
// §4.6.
const IVFPQThreshold = 1000

// Result is one ranked neighbor, sorted descending by Score (inner product,
// equal to cosine similarity for L2-normalized inputs).
type Result struct {
	ID    string
	Score float32
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorindex: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Index is the C6 LeafShardIndex contract: an ANN structure keyed on an
// external string ID (leafId), maintaining a bidirectional map to whatever
// internal IDs the backing implementation uses.
type Index interface {
	// Train prepares the index on a representative vector set. A no-op
	// for implementations that don't require training.
	Train(vectors [][]float32) error
	// Add inserts or updates ids with vectors. Re-adding an existing id
	// updates its vector.
	Add(ids []string, vectors [][]float32) error
	// Search returns up to k nearest neighbors of query, sorted
	// descending by inner product.
	Search(query []float32, k int) ([]Result, error)
	// Len returns the number of live (non-deleted) ids.
	Len() int
	// Save persists the index to path.
	Save(path string) error
	// Load restores the index from path.
	Load(path string) error
	// Close releases resources.
	Close() error
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
