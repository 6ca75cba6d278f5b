// Package store implements the MetadataStore (C9) and Bm25Index (C10): the
// relational persistence layer for docs/nodes/leaves and the lexical
// full-text index over leaf text, per spec §4.9-4.10.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Doc is one indexed Markdown file, per spec §4.9's docs table.
type Doc struct {
	DocID  string
	DocURI string
	Mtime  int64
	Size   int64
	Hash   string
}

// Node is one heading node of a document's outline, per spec §4.9's nodes
// table.
type Node struct {
	NodeID      string
	DocID       string
	Level       int
	HeadingPath string
	StartChar   int
	EndChar     int
	ShardID     uint32
}

// Leaf is one chunk, the unit of embedding and BM25 indexing, per spec
// §4.9's leaves table. Embedding is nil until computed or loaded from the
// cache; when present it is exactly Dimensions float32s.
type Leaf struct {
	LeafID    string
	DocID     string
	NodeID    string
	StartChar int
	EndChar   int
	TextHash  string
	ShardID   uint32
	Embedding []float32
}

// ChangedDocs is the result of diffing a caller-provided doc manifest
// against the store, per spec §4.9's getChangedDocs contract.
type ChangedDocs struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// DocFingerprint is the caller-side {docUri -> (mtime, hash)} entry used by
// getChangedDocs to decide whether a doc needs reparsing.
type DocFingerprint struct {
	Mtime int64
	Hash  string
}

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrDimensionMismatch describes an embedding whose length does not match
// the configured dimensionality. No method of this package returns it.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("store: embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// MetadataStore is the C9 contract: relational persistence of docs, nodes,
// and leaves with concurrent-read semantics, per spec §4.9.
type MetadataStore interface {
	// UpsertDoc inserts or updates a doc by docUri. Idempotent.
	UpsertDoc(ctx context.Context, doc Doc) error
	// DeleteDoc removes a doc and cascades to its nodes and leaves. BM25
	// entries live in the separate BM25Index and are not touched.
	DeleteDoc(ctx context.Context, docID string) error
	// GetDoc returns the doc for docUri, or ErrNotFound.
	GetDoc(ctx context.Context, docURI string) (Doc, error)
	// DocByID returns the doc for docID, or ErrNotFound.
	DocByID(ctx context.Context, docID string) (Doc, error)
	// AllDocs returns every indexed doc, in no particular order. Used by
	// SnapshotBuilder's incremental outline rebuild, which depends on every
	// doc's node embeddings, not just the changed set.
	AllDocs(ctx context.Context) ([]Doc, error)
	// GetChangedDocs diffs known against the store's current docs.
	GetChangedDocs(ctx context.Context, known map[string]DocFingerprint) (ChangedDocs, error)

	// ReplaceNodes replaces all nodes for docID in a single transaction.
	ReplaceNodes(ctx context.Context, docID string, nodes []Node) error
	// NodesForDoc returns a doc's nodes in no particular order.
	NodesForDoc(ctx context.Context, docID string) ([]Node, error)
	// Node returns a single node by ID, or ErrNotFound.
	Node(ctx context.Context, nodeID string) (Node, error)

	// ReplaceLeaves replaces all leaves for docID in a single transaction,
	// reusing embeddings from the prior leaf with the same TextHash so
	// unchanged chunks are not re-embedded (the embedding cache, spec
	// §3's "Embedding cache").
	ReplaceLeaves(ctx context.Context, docID string, leaves []Leaf) error
	// LeavesForDoc returns a doc's leaves in no particular order.
	LeavesForDoc(ctx context.Context, docID string) ([]Leaf, error)
	// LeavesByID returns the leaves matching the given IDs, skipping any
	// that are missing.
	LeavesByID(ctx context.Context, leafIDs []string) ([]Leaf, error)
	// SetEmbedding stores a leaf's embedding vector.
	SetEmbedding(ctx context.Context, leafID string, embedding []float32) error
	// ShardSizes returns the leaf count of every shard that has at least
	// one leaf, keyed by shardId.
	ShardSizes(ctx context.Context) (map[uint32]int, error)

	// GetMeta returns a manifest field, or ErrNotFound.
	GetMeta(ctx context.Context, key string) (string, error)
	// SetMeta sets a manifest field.
	SetMeta(ctx context.Context, key, value string) error

	// Close releases the underlying connection.
	Close() error
}

// Document is one unit of BM25-indexed text, per spec §4.10's insert
// contract. Text may be discarded after indexing if the index is
// contentless; ExcerptExtractor reads excerpts from the source file
// instead.
type Document struct {
	LeafID  string
	ShardID uint32
	Text    string
}

// BM25Result is one ranked hit from a Bm25Index search, per spec §4.10.
type BM25Result struct {
	LeafID          string
	RawRank         float64
	NormalizedScore float64
}

// IndexStats describes a Bm25Index's current size.
type IndexStats struct {
	DocumentCount int
}

// BM25Index is the C10 contract: an inverted-index full-text facility
// capable of BM25 ranking over leaf text, per spec §4.10.
type BM25Index interface {
	// Index inserts or updates documents. Existing rows for the same
	// LeafID are replaced.
	Index(ctx context.Context, docs []Document) error
	// Delete removes documents by LeafID.
	Delete(ctx context.Context, leafIDs []string) error
	// Search ranks all indexed documents against q, returning up to
	// limit results sorted by rawRank, normalized per spec §4.10.
	Search(ctx context.Context, q string, limit int) ([]BM25Result, error)
	// SearchInShards restricts Search to leaves in the given shards.
	SearchInShards(ctx context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error)
	// AllLeafIDs returns every indexed LeafID, for consistency checks
	// against the MetadataStore.
	AllLeafIDs(ctx context.Context) ([]string, error)
	// Stats reports index size.
	Stats(ctx context.Context) (IndexStats, error)
	// Close releases resources.
	Close() error
}
