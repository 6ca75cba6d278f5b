package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ostanlabs/msrl/internal/chunk"
	"github.com/ostanlabs/msrl/internal/embed"
	"github.com/ostanlabs/msrl/internal/idhash"
	"github.com/ostanlabs/msrl/internal/markdown"
	"github.com/ostanlabs/msrl/internal/nodeembed"
	"github.com/ostanlabs/msrl/internal/scanner"
	"github.com/ostanlabs/msrl/internal/shard"
	"github.com/ostanlabs/msrl/internal/store"
	"github.com/ostanlabs/msrl/internal/vectorindex"
)

const (
	metaFileName = "meta.sqlite"
	bm25DirName  = "bm25.bleve"
	outlineName  = "outline.ann"
	shardsDir    = "shards"
)

// Builder implements the Builder contracts of C14: buildFull and
// buildIncremental, per spec §4.14. It wires together C1-C10: markdown
// parsing, fence-safe chunking, FNV shard routing, embedding, the
// metadata store, the BM25 index, and the per-shard/outline ANN indexes.
type Builder struct {
	vaultRoot string
	embedder  embed.Embedder
	chunkCfg  chunk.Config
	batchSize int
}

// NewBuilder constructs a Builder rooted at vaultRoot.
func NewBuilder(vaultRoot string, embedder embed.Embedder, chunkCfg chunk.Config, batchSize int) *Builder {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	return &Builder{vaultRoot: vaultRoot, embedder: embedder, chunkCfg: chunkCfg, batchSize: batchSize}
}

// docState is one file's parsed state, pending embedding.
type docState struct {
	docURI     string
	docID      string
	hash       string
	mtimeMs    int64
	size       int64
	nodes      []store.Node
	leaves     []store.Leaf
	textByLeaf map[string]string
}

// BuildFull implements buildFull: parse, chunk, embed every file; insert
// all metadata; build BM25 and every non-empty shard index; compute node
// embeddings; build the outline index. Per-file errors increment
// filesFailed but do not abort the build.
func (b *Builder) BuildFull(ctx context.Context, stagingDir string, files []scanner.FileInfo) (Manifest, error) {
	metadata, err := store.OpenMetadataStore(filepath.Join(stagingDir, metaFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("open staged metadata store: %w", err)
	}
	defer metadata.Close()

	bm25, err := store.OpenBM25Index(filepath.Join(stagingDir, bm25DirName))
	if err != nil {
		return Manifest{}, fmt.Errorf("open staged bm25 index: %w", err)
	}
	defer bm25.Close()

	states, filesFailed, fileHashes := b.parseAll(ctx, files)
	if err := b.persistDocs(ctx, metadata, states); err != nil {
		return Manifest{}, err
	}

	if err := b.embedPending(ctx, metadata, states); err != nil {
		return Manifest{}, err
	}

	if err := b.indexBM25(ctx, bm25, states); err != nil {
		return Manifest{}, err
	}

	stats, err := b.buildIndexes(ctx, stagingDir, metadata)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		Scope:              ScopeFull,
		EmbeddingModel:      b.embedder.ModelName(),
		EmbeddingDimension:  b.embedder.Dimensions(),
		ChunkerVersion:      ChunkerVersion,
		ShardCount:          int(shard.Count),
		Stats:               stats,
		FileHashes:          fileHashes,
		FilesFailed:         filesFailed,
	}, nil
}

// BuildIncremental implements buildIncremental: copy the prior snapshot's
// metadata/BM25 stores into the staging dir, apply only the changed docs,
// rebuild affected shards from their full post-change leaf set, copy
// unaffected shard files verbatim, and rebuild the outline index (which
// depends on every node's embedding, not just the changed docs').
func (b *Builder) BuildIncremental(ctx context.Context, prevDir, stagingDir string, changes scanner.ChangeSet, changedFiles []scanner.FileInfo) (Manifest, error) {
	if err := copyFile(filepath.Join(prevDir, metaFileName), filepath.Join(stagingDir, metaFileName)); err != nil {
		return Manifest{}, fmt.Errorf("copy metadata store: %w", err)
	}
	if err := copyDir(filepath.Join(prevDir, bm25DirName), filepath.Join(stagingDir, bm25DirName)); err != nil {
		return Manifest{}, fmt.Errorf("copy bm25 index: %w", err)
	}

	metadata, err := store.OpenMetadataStore(filepath.Join(stagingDir, metaFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("open staged metadata store: %w", err)
	}
	defer metadata.Close()

	bm25, err := store.OpenBM25Index(filepath.Join(stagingDir, bm25DirName))
	if err != nil {
		return Manifest{}, fmt.Errorf("open staged bm25 index: %w", err)
	}
	defer bm25.Close()

	affectedShards := make(map[uint32]struct{})

	for _, docURI := range changes.Deleted {
		doc, err := metadata.GetDoc(ctx, docURI)
		if err != nil {
			continue
		}
		leaves, err := metadata.LeavesForDoc(ctx, doc.DocID)
		if err == nil {
			ids := make([]string, len(leaves))
			for i, l := range leaves {
				ids[i] = l.LeafID
				affectedShards[l.ShardID] = struct{}{}
			}
			_ = bm25.Delete(ctx, ids)
		}
		_ = metadata.DeleteDoc(ctx, doc.DocID)
	}

	states, filesFailed, fileHashes := b.parseAll(ctx, changedFiles)
	for _, s := range states {
		if prior, err := metadata.GetDoc(ctx, s.docURI); err == nil {
			if oldLeaves, err := metadata.LeavesForDoc(ctx, prior.DocID); err == nil {
				ids := make([]string, len(oldLeaves))
				for i, l := range oldLeaves {
					ids[i] = l.LeafID
				}
				_ = bm25.Delete(ctx, ids)
			}
		}
	}

	if err := b.persistDocs(ctx, metadata, states); err != nil {
		return Manifest{}, err
	}
	if err := b.embedPending(ctx, metadata, states); err != nil {
		return Manifest{}, err
	}
	if err := b.indexBM25(ctx, bm25, states); err != nil {
		return Manifest{}, err
	}
	for _, s := range states {
		for _, l := range s.leaves {
			affectedShards[l.ShardID] = struct{}{}
		}
	}

	if err := b.copyUnaffectedShards(prevDir, stagingDir, affectedShards); err != nil {
		return Manifest{}, err
	}
	stats, err := b.rebuildAffectedAndOutline(ctx, stagingDir, metadata, affectedShards)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		Scope:              ScopeIncremental,
		EmbeddingModel:      b.embedder.ModelName(),
		EmbeddingDimension:  b.embedder.Dimensions(),
		ChunkerVersion:      ChunkerVersion,
		ShardCount:          int(shard.Count),
		Stats:               stats,
		FileHashes:          fileHashes,
		FilesFailed:         filesFailed,
	}, nil
}

// parseAll reads, normalizes, parses, and chunks every file, tolerating
// per-file failures (spec §4.14: "Errors per file increment filesFailed
// but do not abort the build").
func (b *Builder) parseAll(ctx context.Context, files []scanner.FileInfo) ([]docState, int, map[string]string) {
	var states []docState
	var filesFailed int
	fileHashes := make(map[string]string, len(files))

	for _, f := range files {
		select {
		case <-ctx.Done():
			return states, filesFailed, fileHashes
		default:
		}

		raw, err := os.ReadFile(filepath.Join(b.vaultRoot, filepath.FromSlash(f.DocURI)))
		if err != nil {
			slog.Warn("snapshot: failed to read file", slog.String("doc_uri", f.DocURI), slog.String("error", err.Error()))
			filesFailed++
			continue
		}
		text := markdown.Normalize(raw)
		hash := idhash.Hex([]byte(text))
		fileHashes[f.DocURI] = hash

		docID := idhash.TruncatedHash(f.DocURI)
		nodes, leaves, textByLeaf := b.parseAndChunk(f.DocURI, docID, text)

		states = append(states, docState{
			docURI: f.DocURI, docID: docID, hash: hash,
			mtimeMs: f.MtimeMs, size: f.Size,
			nodes: nodes, leaves: leaves, textByLeaf: textByLeaf,
		})
	}
	return states, filesFailed, fileHashes
}

// parseAndChunk builds a doc's heading tree and chunks every node's own
// content, per spec §4.2-4.3. All nodes/leaves of a doc share one shard
// (spec invariant 3: shardId is a function of docUri alone).
func (b *Builder) parseAndChunk(docURI, docID, text string) ([]store.Node, []store.Leaf, map[string]string) {
	fences := markdown.DetectFences(text)
	root := markdown.Parse(docURI, text)
	shardID := shard.For(docURI)

	var nodes []store.Node
	var leaves []store.Leaf
	textByLeaf := make(map[string]string)

	root.Walk(func(n *markdown.Node) {
		nodes = append(nodes, store.Node{
			NodeID: n.ID, DocID: docID, Level: n.Level, HeadingPath: n.HeadingPath,
			StartChar: n.StartChar, EndChar: n.EndChar, ShardID: shardID,
		})
		for _, c := range chunk.ChunkNode(docURI, n, text, fences, b.chunkCfg) {
			leaves = append(leaves, store.Leaf{
				LeafID: c.LeafID, DocID: docID, NodeID: n.ID,
				StartChar: c.StartChar, EndChar: c.EndChar,
				TextHash: c.TextHash, ShardID: shardID,
			})
			textByLeaf[c.LeafID] = text[c.StartChar:c.EndChar]
		}
	})
	return nodes, leaves, textByLeaf
}

func (b *Builder) persistDocs(ctx context.Context, metadata store.MetadataStore, states []docState) error {
	for _, s := range states {
		doc := store.Doc{DocID: s.docID, DocURI: s.docURI, Mtime: s.mtimeMs, Size: s.size, Hash: s.hash}
		if err := metadata.UpsertDoc(ctx, doc); err != nil {
			return fmt.Errorf("upsert doc %s: %w", s.docURI, err)
		}
		if err := metadata.ReplaceNodes(ctx, s.docID, s.nodes); err != nil {
			return fmt.Errorf("replace nodes for %s: %w", s.docURI, err)
		}
		if err := metadata.ReplaceLeaves(ctx, s.docID, s.leaves); err != nil {
			return fmt.Errorf("replace leaves for %s: %w", s.docURI, err)
		}
	}
	return nil
}

// embedPending embeds every leaf that didn't carry forward a cached
// embedding (ReplaceLeaves already populated l.Embedding for cache hits),
// batching across all touched docs per spec §4.5's batchSize.
func (b *Builder) embedPending(ctx context.Context, metadata store.MetadataStore, states []docState) error {
	type pending struct {
		leafID string
		text   string
	}
	var queue []pending
	for _, s := range states {
		leaves, err := metadata.LeavesForDoc(ctx, s.docID)
		if err != nil {
			return fmt.Errorf("reload leaves for %s: %w", s.docURI, err)
		}
		for _, l := range leaves {
			if l.Embedding == nil {
				queue = append(queue, pending{leafID: l.LeafID, text: s.textByLeaf[l.LeafID]})
			}
		}
	}
	if len(queue) == 0 {
		return nil
	}

	for start := 0; start < len(queue); start += b.batchSize {
		end := start + b.batchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[start:end]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.text
		}
		vectors, err := b.embedder.EmbedBatch(ctx, texts, b.batchSize)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, v := range vectors {
			if err := metadata.SetEmbedding(ctx, batch[i].leafID, v); err != nil {
				return fmt.Errorf("set embedding for %s: %w", batch[i].leafID, err)
			}
		}
	}
	return nil
}

func (b *Builder) indexBM25(ctx context.Context, bm25 store.BM25Index, states []docState) error {
	var docs []store.Document
	for _, s := range states {
		for _, l := range s.leaves {
			docs = append(docs, store.Document{LeafID: l.LeafID, ShardID: l.ShardID, Text: s.textByLeaf[l.LeafID]})
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if err := bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index bm25 documents: %w", err)
	}
	return nil
}

// buildIndexes builds every non-empty shard's ANN index and the outline
// index from scratch, used by buildFull (every doc is "affected").
func (b *Builder) buildIndexes(ctx context.Context, stagingDir string, metadata store.MetadataStore) (Stats, error) {
	sizes, err := metadata.ShardSizes(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("shard sizes: %w", err)
	}
	shardIDs := make(map[uint32]struct{}, len(sizes))
	for id := range sizes {
		shardIDs[id] = struct{}{}
	}
	return b.rebuildShardsAndOutline(ctx, stagingDir, metadata, shardIDs)
}

// rebuildAffectedAndOutline is buildIncremental's counterpart: it rebuilds
// exactly the affected shards (shard deletion isn't supported by the ANN
// layer, so a touched shard is always rebuilt whole) plus the outline,
// which always depends on every doc's node embeddings.
func (b *Builder) rebuildAffectedAndOutline(ctx context.Context, stagingDir string, metadata store.MetadataStore, affectedShards map[uint32]struct{}) (Stats, error) {
	return b.rebuildShardsAndOutline(ctx, stagingDir, metadata, affectedShards)
}

// rebuildShardsAndOutline rebuilds the given shards' ANN files from their
// current full leaf set, computes every node's MMR vector (C8) across
// every doc, and rebuilds the outline index (C7) over all node vectors.
func (b *Builder) rebuildShardsAndOutline(ctx context.Context, stagingDir string, metadata store.MetadataStore, shardsToRebuild map[uint32]struct{}) (Stats, error) {
	dims := b.embedder.Dimensions()

	for shardID := range shardsToRebuild {
		leaves, err := leavesInShard(ctx, metadata, shardID)
		if err != nil {
			return Stats{}, err
		}
		idx := vectorindex.NewLeafShardIndex(len(leaves), dims)
		if len(leaves) > 0 {
			ids := make([]string, len(leaves))
			vectors := make([][]float32, len(leaves))
			for i, l := range leaves {
				ids[i] = l.LeafID
				vectors[i] = l.Embedding
			}
			if err := idx.Train(vectors); err != nil {
				return Stats{}, fmt.Errorf("train shard %d: %w", shardID, err)
			}
			if err := idx.Add(ids, vectors); err != nil {
				return Stats{}, fmt.Errorf("populate shard %d: %w", shardID, err)
			}
			path := shardPath(stagingDir, shardID)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return Stats{}, fmt.Errorf("create shards dir: %w", err)
			}
			if err := idx.Save(path); err != nil {
				return Stats{}, fmt.Errorf("save shard %d: %w", shardID, err)
			}
		}
		_ = idx.Close()
	}

	docs, err := metadata.AllDocs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list docs: %w", err)
	}

	outline := vectorindex.NewOutline(dims)
	var nodeCount, leafCount int
	nonEmptyShards := make(map[uint32]struct{})

	for _, doc := range docs {
		nodes, err := metadata.NodesForDoc(ctx, doc.DocID)
		if err != nil {
			return Stats{}, fmt.Errorf("nodes for %s: %w", doc.DocURI, err)
		}
		leaves, err := metadata.LeavesForDoc(ctx, doc.DocID)
		if err != nil {
			return Stats{}, fmt.Errorf("leaves for %s: %w", doc.DocURI, err)
		}
		leafCount += len(leaves)
		for _, l := range leaves {
			nonEmptyShards[l.ShardID] = struct{}{}
		}

		leavesByNode := make(map[string][][]float32)
		for _, l := range leaves {
			if l.Embedding != nil {
				leavesByNode[l.NodeID] = append(leavesByNode[l.NodeID], l.Embedding)
			}
		}
		for _, n := range nodes {
			nodeCount++
			vecs := leavesByNode[n.NodeID]
			if len(vecs) == 0 {
				continue
			}
			vec := nodeembed.NodeVector(vecs)
			if err := outline.Add(n.NodeID, vec, []uint32{n.ShardID}); err != nil {
				return Stats{}, fmt.Errorf("add outline node %s: %w", n.NodeID, err)
			}
		}
	}

	if outline.Len() > 0 {
		if err := outline.Save(filepath.Join(stagingDir, outlineName)); err != nil {
			return Stats{}, fmt.Errorf("save outline: %w", err)
		}
	}
	_ = outline.Close()

	return Stats{
		Docs:   len(docs),
		Nodes:  nodeCount,
		Leaves: leafCount,
		Shards: len(nonEmptyShards),
	}, nil
}

func leavesInShard(ctx context.Context, metadata store.MetadataStore, shardID uint32) ([]store.Leaf, error) {
	docs, err := metadata.AllDocs(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Leaf
	for _, doc := range docs {
		if shard.For(doc.DocURI) != shardID {
			continue
		}
		leaves, err := metadata.LeavesForDoc(ctx, doc.DocID)
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}

func (b *Builder) copyUnaffectedShards(prevDir, stagingDir string, affected map[uint32]struct{}) error {
	prevShards := filepath.Join(prevDir, shardsDir)
	entries, err := os.ReadDir(prevShards)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list prior shards: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(stagingDir, shardsDir), 0755); err != nil {
		return fmt.Errorf("create shards dir: %w", err)
	}

	for _, e := range entries {
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "shard_%03d.ann", &id); err != nil {
			continue
		}
		if _, rebuilding := affected[id]; rebuilding {
			continue
		}
		src := filepath.Join(prevShards, e.Name())
		dst := filepath.Join(stagingDir, shardsDir, e.Name())
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy shard file %s: %w", e.Name(), err)
		}
		metaSrc := src + ".meta"
		if _, err := os.Stat(metaSrc); err == nil {
			if err := copyFile(metaSrc, dst+".meta"); err != nil {
				return fmt.Errorf("copy shard sidecar %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func shardPath(stagingDir string, shardID uint32) string {
	return filepath.Join(stagingDir, shardsDir, fmt.Sprintf("shard_%03d.ann", shardID))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func copyDir(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
