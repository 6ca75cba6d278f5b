// Package search implements the HybridScorer, SpanMerger, and
// ExcerptExtractor (C11), and the RetrievalPipeline (C12), per spec
// §4.11-4.12.
package search

import (
	"fmt"
	"sort"
)

// VectorCandidate is one vector-search hit, scored in [0,1].
type VectorCandidate struct {
	LeafID string
	VScore float64
}

// BM25Candidate is one BM25 hit, scored in [0,1], with an optional cached
// vector score carried from the embedding cache for missing-score fallback.
type BM25Candidate struct {
	LeafID  string
	BScore  float64
	CachedV *float64
}

// FusedCandidate is one hybrid-scored result, per spec §4.11.
type FusedCandidate struct {
	LeafID string
	Score  float64
	VScore float64
	BScore float64
}

// HybridScorer fuses vector and BM25 candidates by weighted sum, per spec
// §4.11.
type HybridScorer struct {
	vectorWeight float64
	bm25Weight   float64
}

// NewHybridScorer validates that the weights sum to 1 and returns a scorer.
func NewHybridScorer(vectorWeight, bm25Weight float64) (*HybridScorer, error) {
	sum := vectorWeight + bm25Weight
	if sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("search: vectorWeight+bm25Weight must sum to 1, got %v", sum)
	}
	return &HybridScorer{vectorWeight: vectorWeight, bm25Weight: bm25Weight}, nil
}

// Fuse combines vector and BM25 candidates into a single descending-score
// list, per spec §4.11's missing-score policy: a BM25-only candidate falls
// back to its CachedV (else 0); a vector-only candidate uses b=0. Ties
// break ascending by leafId for determinism.
func (h *HybridScorer) Fuse(vector []VectorCandidate, bm25 []BM25Candidate) []FusedCandidate {
	type entry struct {
		v, b    float64
		hasV    bool
		hasB    bool
		cachedV *float64
	}
	byLeaf := make(map[string]*entry)

	get := func(leafID string) *entry {
		e, ok := byLeaf[leafID]
		if !ok {
			e = &entry{}
			byLeaf[leafID] = e
		}
		return e
	}

	for _, c := range vector {
		e := get(c.LeafID)
		e.v = c.VScore
		e.hasV = true
	}
	for _, c := range bm25 {
		e := get(c.LeafID)
		e.b = c.BScore
		e.hasB = true
		e.cachedV = c.CachedV
	}

	out := make([]FusedCandidate, 0, len(byLeaf))
	for leafID, e := range byLeaf {
		v := e.v
		if !e.hasV {
			if e.cachedV != nil {
				v = *e.cachedV
			} else {
				v = 0
			}
		}
		b := e.b
		if !e.hasB {
			b = 0
		}
		out = append(out, FusedCandidate{
			LeafID: leafID,
			Score:  h.vectorWeight*v + h.bm25Weight*b,
			VScore: v,
			BScore: b,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].LeafID < out[j].LeafID
	})
	return out
}
