package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ostanlabs/msrl/internal/shard"
	"github.com/ostanlabs/msrl/internal/store"
	"github.com/ostanlabs/msrl/internal/vectorindex"
)

// Filters are the RetrievalPipeline's AND-combined result filters, per spec
// §4.12 step 7.
type Filters struct {
	DocURIPrefix        string
	DocURIs             []string
	HeadingPathPrefix   string
	HeadingPathContains string
}

// QueryParams are the inputs to Pipeline.Query.
type QueryParams struct {
	Query                 string
	Limit                 int
	MaxExcerptChars       int
	Filters               Filters
	IncludeShardsSearched bool
}

// Result is one result row, matching the engine's public SearchResult
// shape from spec §6.
type Result struct {
	DocURI           string
	HeadingPath      string
	StartChar        int
	EndChar          int
	Excerpt          string
	ExcerptTruncated bool
	Score            float64
	VectorScore      float64
	BM25Score        float64
}

// Meta carries query timing and optional debug info.
type Meta struct {
	TookMs         int64
	ShardsSearched []uint32
}

// Response is the RetrievalPipeline's output, per spec §4.12 step 10.
type Response struct {
	Results []Result
	Meta    Meta
}

// Embedder is the subset of C5 the pipeline needs to embed a query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Router is the subset of C7 OutlineIndex the pipeline needs.
type Router interface {
	Route(queryVec []float32, topNodes, maxShards int) ([]uint32, error)
}

// ShardIndexes resolves a shard's C6 LeafShardIndex on demand (backed by an
// LRU cache in the engine, per spec §5's shared-resource policy).
type ShardIndexes interface {
	Shard(shardID uint32) (vectorindex.Index, error)
}

// SourceReader reads a document's full normalized text by docUri, for
// excerpt extraction.
type SourceReader interface {
	ReadDoc(ctx context.Context, docURI string) (string, error)
}

// Config holds the pipeline's tunable defaults, per spec §4.12 and §6.
type Config struct {
	FetchMultiplier int
	TopNodes        int
	MaxShards       int
	MaxExcerptChars int
	SpanMergeGap    int
}

// DefaultConfig matches the spec's literal defaults.
func DefaultConfig() Config {
	return Config{
		FetchMultiplier: 3,
		TopNodes:        8,
		MaxShards:       16,
		MaxExcerptChars: 4000,
		SpanMergeGap:    0,
	}
}

// Pipeline is the RetrievalPipeline (C12), per spec §4.12.
type Pipeline struct {
	embedder Embedder
	router   Router
	shards   ShardIndexes
	bm25     store.BM25Index
	metadata store.MetadataStore
	source   SourceReader
	scorer   *HybridScorer
	cfg      Config
}

// New constructs a RetrievalPipeline from its collaborators.
func New(embedder Embedder, router Router, shards ShardIndexes, bm25 store.BM25Index, metadata store.MetadataStore, source SourceReader, scorer *HybridScorer, cfg Config) *Pipeline {
	return &Pipeline{
		embedder: embedder,
		router:   router,
		shards:   shards,
		bm25:     bm25,
		metadata: metadata,
		source:   source,
		scorer:   scorer,
		cfg:      cfg,
	}
}

// Query runs the full retrieval pipeline, per spec §4.12's ten steps.
func (p *Pipeline) Query(ctx context.Context, params QueryParams) (Response, error) {
	start := time.Now()

	q := strings.TrimSpace(params.Query)
	if q == "" {
		return Response{Meta: Meta{TookMs: elapsedMs(start)}}, nil
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 8
	}
	fetchLimit := p.cfg.FetchMultiplier * limit

	queryVec, err := p.embedder.Embed(ctx, q)
	if err != nil {
		return Response{}, err
	}

	shardIDs, err := p.router.Route(queryVec, p.cfg.TopNodes, p.cfg.MaxShards)
	if err != nil {
		return Response{}, err
	}
	if len(shardIDs) == 0 {
		return Response{Meta: Meta{TookMs: elapsedMs(start)}}, nil
	}

	shardIDs, err = p.narrowShardsByFilters(ctx, shardIDs, params.Filters)
	if err != nil {
		return Response{}, err
	}
	if len(shardIDs) == 0 {
		return Response{Meta: Meta{TookMs: elapsedMs(start)}}, nil
	}

	var (
		vectorHits []VectorCandidate
		bm25Hits   []BM25Candidate
		mu         sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := p.searchShards(shardIDs, queryVec, fetchLimit)
		if err != nil {
			return err
		}
		mu.Lock()
		vectorHits = hits
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		results, err := p.bm25.SearchInShards(gctx, q, shardIDs, fetchLimit)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, r := range results {
			bm25Hits = append(bm25Hits, BM25Candidate{LeafID: r.LeafID, BScore: r.NormalizedScore})
		}
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	p.fillCachedVectorScores(ctx, bm25Hits, queryVec)

	fused := p.scorer.Fuse(vectorHits, bm25Hits)

	spans, err := p.resolveSpans(ctx, fused, params.Filters)
	if err != nil {
		return Response{}, err
	}

	merged := MergeSpans(spans, p.cfg.SpanMergeGap)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	fusedByLeaf := make(map[string]FusedCandidate, len(fused))
	for _, f := range fused {
		fusedByLeaf[f.LeafID] = f
	}

	maxExcerptChars := params.MaxExcerptChars
	if maxExcerptChars <= 0 {
		maxExcerptChars = p.cfg.MaxExcerptChars
	}
	results, err := p.buildResults(ctx, merged, fusedByLeaf, maxExcerptChars)
	if err != nil {
		return Response{}, err
	}

	meta := Meta{TookMs: elapsedMs(start)}
	if params.IncludeShardsSearched {
		meta.ShardsSearched = shardIDs
	}
	return Response{Results: results, Meta: meta}, nil
}

// narrowShardsByFilters restricts shardIDs to those that can actually hold
// a match for filters, per spec §4.12 step 4. DocURIPrefix/DocURIs pin a
// query to specific docs, and shard assignment is a pure function of
// docUri (shard.For), so the matching doc set's shards are computed
// up front and intersected with the router's shardIDs before any shard is
// fetched. HeadingPathPrefix/HeadingPathContains don't correlate with
// shard assignment and are left to passesFilters after span resolution.
func (p *Pipeline) narrowShardsByFilters(ctx context.Context, shardIDs []uint32, filters Filters) ([]uint32, error) {
	if filters.DocURIPrefix == "" && len(filters.DocURIs) == 0 {
		return shardIDs, nil
	}

	docs, err := p.metadata.AllDocs(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[uint32]struct{})
	for _, doc := range docs {
		if filters.DocURIPrefix != "" && !strings.HasPrefix(doc.DocURI, filters.DocURIPrefix) {
			continue
		}
		if len(filters.DocURIs) > 0 {
			found := false
			for _, d := range filters.DocURIs {
				if d == doc.DocURI {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		wanted[shard.For(doc.DocURI)] = struct{}{}
	}

	narrowed := make([]uint32, 0, len(shardIDs))
	for _, id := range shardIDs {
		if _, ok := wanted[id]; ok {
			narrowed = append(narrowed, id)
		}
	}
	return narrowed, nil
}

func (p *Pipeline) searchShards(shardIDs []uint32, queryVec []float32, k int) ([]VectorCandidate, error) {
	var mu sync.Mutex
	var out []VectorCandidate

	var g errgroup.Group
	for _, id := range shardIDs {
		id := id
		g.Go(func() error {
			idx, err := p.shards.Shard(id)
			if err != nil {
				return err
			}
			hits, err := idx.Search(queryVec, k)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, h := range hits {
				out = append(out, VectorCandidate{LeafID: h.ID, VScore: float64(h.Score)})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fillCachedVectorScores populates CachedV on BM25-only candidates with the
// cosine similarity between queryVec and the leaf's cached embedding (both
// L2-normalized, so inner product equals cosine), per spec §4.11's
// missing-score policy and §3's embedding-cache rationale.
func (p *Pipeline) fillCachedVectorScores(ctx context.Context, bm25Hits []BM25Candidate, queryVec []float32) {
	if len(bm25Hits) == 0 {
		return
	}
	ids := make([]string, len(bm25Hits))
	for i, c := range bm25Hits {
		ids[i] = c.LeafID
	}
	leaves, err := p.metadata.LeavesByID(ctx, ids)
	if err != nil {
		return
	}
	embByID := make(map[string][]float32, len(leaves))
	for _, l := range leaves {
		if l.Embedding != nil {
			embByID[l.LeafID] = l.Embedding
		}
	}
	for i := range bm25Hits {
		if v, ok := embByID[bm25Hits[i].LeafID]; ok {
			sim := innerProduct(queryVec, v)
			bm25Hits[i].CachedV = &sim
		}
	}
}

func innerProduct(a []float32, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func (p *Pipeline) resolveSpans(ctx context.Context, fused []FusedCandidate, filters Filters) ([]SpanCandidate, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	scoreByID := make(map[string]FusedCandidate, len(fused))
	for i, f := range fused {
		ids[i] = f.LeafID
		scoreByID[f.LeafID] = f
	}

	leaves, err := p.metadata.LeavesByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	var spans []SpanCandidate
	for _, leaf := range leaves {
		node, err := p.metadata.Node(ctx, leaf.NodeID)
		if err != nil {
			continue
		}
		doc, err := p.metadata.DocByID(ctx, leaf.DocID)
		if err != nil {
			continue
		}
		if !passesFilters(doc.DocURI, node.HeadingPath, filters) {
			continue
		}
		f := scoreByID[leaf.LeafID]
		spans = append(spans, SpanCandidate{
			DocURI:    doc.DocURI,
			StartChar: leaf.StartChar,
			EndChar:   leaf.EndChar,
			Score:     f.Score,
			LeafIDs:   []string{leaf.LeafID},
		})
	}
	return spans, nil
}

func passesFilters(docURI, headingPath string, f Filters) bool {
	if f.DocURIPrefix != "" && !strings.HasPrefix(docURI, f.DocURIPrefix) {
		return false
	}
	if len(f.DocURIs) > 0 {
		found := false
		for _, d := range f.DocURIs {
			if d == docURI {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HeadingPathPrefix != "" && !strings.HasPrefix(headingPath, f.HeadingPathPrefix) {
		return false
	}
	if f.HeadingPathContains != "" && !strings.Contains(strings.ToLower(headingPath), strings.ToLower(f.HeadingPathContains)) {
		return false
	}
	return true
}

// buildResults materializes spans into final results, per spec §4.12 step
// 9: the representative leaf (first in the span) sources headingPath and
// per-leaf scores.
func (p *Pipeline) buildResults(ctx context.Context, spans []SpanCandidate, fusedByLeaf map[string]FusedCandidate, maxExcerptChars int) ([]Result, error) {
	results := make([]Result, 0, len(spans))
	for _, s := range spans {
		if len(s.LeafIDs) == 0 {
			continue
		}
		repLeafID := s.LeafIDs[0]
		leaves, err := p.metadata.LeavesByID(ctx, []string{repLeafID})
		if err != nil || len(leaves) == 0 {
			continue
		}
		node, err := p.metadata.Node(ctx, leaves[0].NodeID)
		if err != nil {
			continue
		}
		text, err := p.source.ReadDoc(ctx, s.DocURI)
		if err != nil {
			continue
		}
		excerpt := ExtractExcerpt(text, s.StartChar, s.EndChar, maxExcerptChars)
		rep := fusedByLeaf[repLeafID]
		results = append(results, Result{
			DocURI:           s.DocURI,
			HeadingPath:      node.HeadingPath,
			StartChar:        s.StartChar,
			EndChar:          s.EndChar,
			Excerpt:          excerpt.Text,
			ExcerptTruncated: excerpt.Truncated,
			Score:            s.Score,
			VectorScore:      rep.VScore,
			BM25Score:        rep.BScore,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
