package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	proseTokenizerName = "msrl_prose"
	proseStopName      = "msrl_prose_stop"
	proseAnalyzerName  = "msrl_prose"
)

func init() {
	registry.RegisterTokenizer(proseTokenizerName, proseTokenizerConstructor)
	registry.RegisterTokenFilter(proseStopName, proseStopFilterConstructor)
}

// proseTokenizerConstructor registers the prose tokenizer (word + camel/snake
// split, per Tokenize) with bleve's registry, mirroring the teacher's custom
// code-tokenizer registration pattern in internal/store/bm25.go.
func proseTokenizerConstructor(_ *registry.Cache, _ map[string]any) (analysis.Tokenizer, error) {
	return bleveProseTokenizer{}, nil
}

type bleveProseTokenizer struct{}

func (bleveProseTokenizer) Tokenize(input []byte) analysis.TokenStream {
	words := Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(words))
	pos := 1
	for _, w := range words {
		stream = append(stream, &analysis.Token{
			Term:     []byte(w),
			Start:    0,
			End:      len(w),
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
	}
	return stream
}

func proseStopFilterConstructor(_ *registry.Cache, _ map[string]any) (analysis.TokenFilter, error) {
	return bleveProseStopFilter{stop: BuildStopWordMap(EnglishStopWords)}, nil
}

type bleveProseStopFilter struct {
	stop map[string]struct{}
}

func (f bleveProseStopFilter) Filter(in analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(in))
	for _, t := range in {
		if _, skip := f.stop[string(t.Term)]; skip {
			continue
		}
		out = append(out, t)
	}
	return out
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(proseAnalyzerName, map[string]any{
		"type":          "custom",
		"tokenizer":     proseTokenizerName,
		"token_filters": []string{lowercase.Name, proseStopName},
	}); err != nil {
		return nil, fmt.Errorf("register prose analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()
	fieldMapping := bleve.NewTextFieldMapping()
	fieldMapping.Analyzer = proseAnalyzerName
	fieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("text", fieldMapping)

	shardMapping := bleve.NewNumericFieldMapping()
	shardMapping.Index = true
	docMapping.AddFieldMappingsAt("shard", shardMapping)

	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = proseAnalyzerName
	return im, nil
}

// bleveDoc is the document shape indexed into bleve; Text is kept so
// contentless deletes still have their terms to remove (bleve always
// mirrors the field, but this struct documents that choice), per spec
// §4.10's "cache a side-table keyed on leafId" delete contract.
type bleveDoc struct {
	Text  string  `json:"text"`
	Shard float64 `json:"shard"`
}

// BleveBM25Index implements Bm25Index (C10) over bleve/v2, grounded on the
// teacher's BleveBM25Index in internal/store/bm25.go: a custom
// tokenizer/analyzer registered with bleve's registry, corruption detection
// via the index's on-disk metadata, and bleve.NewMatchQuery-based search.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// OpenBM25Index opens (or creates) a bleve index at path.
func OpenBM25Index(path string) (*BleveBM25Index, error) {
	if _, err := os.Stat(filepath.Join(path, "index_meta.json")); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr == nil {
			return &BleveBM25Index{index: idx, path: path}, nil
		}
		if !isCorruptionError(openErr) {
			return nil, fmt.Errorf("open bm25 index: %w", openErr)
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove corrupt bm25 index: %w", err)
		}
	}

	im, err := createIndexMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create bm25 index: %w", err)
	}
	return &BleveBM25Index{index: idx, path: path}, nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "corrupt") || strings.Contains(msg, "invalid") || strings.Contains(msg, "unexpected eof")
}

func (b *BleveBM25Index) Index(_ context.Context, docs []Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.LeafID, bleveDoc{Text: d.Text, Shard: float64(d.ShardID)}); err != nil {
			return fmt.Errorf("batch index %s: %w", d.LeafID, err)
		}
	}
	return b.index.Batch(batch)
}

func (b *BleveBM25Index) Delete(_ context.Context, leafIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range leafIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

func (b *BleveBM25Index) Search(ctx context.Context, q string, limit int) ([]BM25Result, error) {
	return b.search(ctx, q, nil, limit)
}

func (b *BleveBM25Index) SearchInShards(ctx context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error) {
	return b.search(ctx, q, shardIDs, limit)
}

// search implements spec §4.10: split q on whitespace, strip quote
// characters, OR the terms, rank by BM25, return results with
// normalizedScore = |rawRank| / max(|rawRank|). rawRank is the negation of
// bleve's match score so the normalization algebra matches the spec's
// "negative rank" convention exactly: |−score| / max(|−score|) =
// score / maxScore.
func (b *BleveBM25Index) search(_ context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}

	terms := splitQueryTerms(q)
	if len(terms) == 0 {
		return nil, nil
	}

	disjunction := bleve.NewDisjunctionQuery()
	for _, t := range terms {
		mq := bleve.NewMatchQuery(t)
		mq.SetField("text")
		disjunction.AddQuery(mq)
	}

	var finalQuery query.Query = disjunction
	if len(shardIDs) > 0 {
		shardDisjunction := bleve.NewDisjunctionQuery()
		for _, sid := range shardIDs {
			v := float64(sid)
			nq := bleve.NewNumericRangeInclusiveQuery(&v, &v, &trueVal, &trueVal)
			nq.SetField("shard")
			shardDisjunction.AddQuery(nq)
		}
		finalQuery = bleve.NewConjunctionQuery(disjunction, shardDisjunction)
	}

	req := bleve.NewSearchRequestOptions(finalQuery, limit, 0, false)
	req.IncludeLocations = true

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	maxScore := 0.0
	for _, hit := range result.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	out := make([]BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		norm := 0.0
		if maxScore > 0 {
			norm = hit.Score / maxScore
		}
		out = append(out, BM25Result{
			LeafID:          hit.ID,
			RawRank:         -hit.Score,
			NormalizedScore: norm,
		})
	}
	return out, nil
}

var trueVal = true

// splitQueryTerms splits q on whitespace and strips quote characters, per
// spec §4.10.
func splitQueryTerms(q string) []string {
	fields := strings.Fields(q)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (b *BleveBM25Index) AllLeafIDs(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}

	var ids []string
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, 0, false)
	total, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	req.Size = int(total)
	if req.Size == 0 {
		return nil, nil
	}
	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list all ids: %w", err)
	}
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (b *BleveBM25Index) Stats(_ context.Context) (IndexStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return IndexStats{}, fmt.Errorf("bm25 index is closed")
	}
	count, err := b.index.DocCount()
	if err != nil {
		return IndexStats{}, fmt.Errorf("doc count: %w", err)
	}
	return IndexStats{DocumentCount: int(count)}, nil
}

func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ BM25Index = (*BleveBM25Index)(nil)
