package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// schemaSQL creates the docs/nodes/leaves/meta tables of spec §4.9.
// Embeddings are stored as little-endian f32[1024] BLOBs (4096 bytes).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS docs (
	doc_id   TEXT PRIMARY KEY,
	doc_uri  TEXT UNIQUE NOT NULL,
	mtime    INTEGER NOT NULL,
	size     INTEGER NOT NULL,
	hash     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	node_id      TEXT PRIMARY KEY,
	doc_id       TEXT NOT NULL REFERENCES docs(doc_id) ON DELETE CASCADE,
	level        INTEGER NOT NULL,
	heading_path TEXT NOT NULL,
	start_char   INTEGER NOT NULL,
	end_char     INTEGER NOT NULL,
	shard_id     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_doc ON nodes(doc_id);

CREATE TABLE IF NOT EXISTS leaves (
	leaf_id    TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL REFERENCES docs(doc_id) ON DELETE CASCADE,
	node_id    TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	start_char INTEGER NOT NULL,
	end_char   INTEGER NOT NULL,
	text_hash  TEXT NOT NULL,
	shard_id   INTEGER NOT NULL,
	embedding  BLOB
);
CREATE INDEX IF NOT EXISTS idx_leaves_doc ON leaves(doc_id);
CREATE INDEX IF NOT EXISTS idx_leaves_shard ON leaves(shard_id);
CREATE INDEX IF NOT EXISTS idx_leaves_texthash ON leaves(text_hash);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteMetadataStore implements MetadataStore over modernc.org/sqlite, a
// pure Go driver (no CGO), matching the teacher's rationale for choosing it
// over mattn/go-sqlite3 for the primary persisted snapshot data. WAL mode
// gives readers concurrent access while a build is in progress.
type SQLiteMetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens (creating if absent) a metadata database at path,
// applying the pragmas spec §4.9's "concurrent-read semantics" requires.
func OpenMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteMetadataStore{db: db}, nil
}

func (s *SQLiteMetadataStore) UpsertDoc(ctx context.Context, doc Doc) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO docs (doc_id, doc_uri, mtime, size, hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_uri) DO UPDATE SET
			mtime = excluded.mtime,
			size  = excluded.size,
			hash  = excluded.hash`,
		doc.DocID, doc.DocURI, doc.Mtime, doc.Size, doc.Hash)
	if err != nil {
		return fmt.Errorf("upsert doc: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) DeleteDoc(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete doc: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) GetDoc(ctx context.Context, docURI string) (Doc, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, doc_uri, mtime, size, hash FROM docs WHERE doc_uri = ?`, docURI)
	var d Doc
	if err := row.Scan(&d.DocID, &d.DocURI, &d.Mtime, &d.Size, &d.Hash); err != nil {
		if err == sql.ErrNoRows {
			return Doc{}, ErrNotFound
		}
		return Doc{}, fmt.Errorf("get doc: %w", err)
	}
	return d, nil
}

func (s *SQLiteMetadataStore) DocByID(ctx context.Context, docID string) (Doc, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, doc_uri, mtime, size, hash FROM docs WHERE doc_id = ?`, docID)
	var d Doc
	if err := row.Scan(&d.DocID, &d.DocURI, &d.Mtime, &d.Size, &d.Hash); err != nil {
		if err == sql.ErrNoRows {
			return Doc{}, ErrNotFound
		}
		return Doc{}, fmt.Errorf("get doc by id: %w", err)
	}
	return d, nil
}

func (s *SQLiteMetadataStore) AllDocs(ctx context.Context) ([]Doc, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, doc_uri, mtime, size, hash FROM docs`)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.DocID, &d.DocURI, &d.Mtime, &d.Size, &d.Hash); err != nil {
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetChangedDocs(ctx context.Context, known map[string]DocFingerprint) (ChangedDocs, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_uri, mtime, hash FROM docs`)
	if err != nil {
		return ChangedDocs{}, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	current := make(map[string]DocFingerprint)
	for rows.Next() {
		var uri, hash string
		var mtime int64
		if err := rows.Scan(&uri, &mtime, &hash); err != nil {
			return ChangedDocs{}, fmt.Errorf("scan doc: %w", err)
		}
		current[uri] = DocFingerprint{Mtime: mtime, Hash: hash}
	}
	if err := rows.Err(); err != nil {
		return ChangedDocs{}, err
	}

	var out ChangedDocs
	for uri, fp := range known {
		stored, exists := current[uri]
		if !exists {
			out.Added = append(out.Added, uri)
			continue
		}
		if stored.Mtime != fp.Mtime || stored.Hash != fp.Hash {
			out.Modified = append(out.Modified, uri)
		}
	}
	for uri := range current {
		if _, exists := known[uri]; !exists {
			out.Deleted = append(out.Deleted, uri)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Modified)
	sort.Strings(out.Deleted)
	return out, nil
}

func (s *SQLiteMetadataStore) ReplaceNodes(ctx context.Context, docID string, nodes []Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (node_id, doc_id, level, heading_path, start_char, end_char, shard_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert node: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.NodeID, docID, n.Level, n.HeadingPath, n.StartChar, n.EndChar, n.ShardID); err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteMetadataStore) NodesForDoc(ctx context.Context, docID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, doc_id, level, heading_path, start_char, end_char, shard_id
		FROM nodes WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *SQLiteMetadataStore) Node(ctx context.Context, nodeID string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, doc_id, level, heading_path, start_char, end_char, shard_id
		FROM nodes WHERE node_id = ?`, nodeID)
	var n Node
	if err := row.Scan(&n.NodeID, &n.DocID, &n.Level, &n.HeadingPath, &n.StartChar, &n.EndChar, &n.ShardID); err != nil {
		if err == sql.ErrNoRows {
			return Node{}, ErrNotFound
		}
		return Node{}, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.NodeID, &n.DocID, &n.Level, &n.HeadingPath, &n.StartChar, &n.EndChar, &n.ShardID); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ReplaceLeaves replaces docID's leaves, carrying forward the embedding of
// any prior leaf whose TextHash matches the new leaf's TextHash so unchanged
// chunks skip re-embedding, per spec §3's embedding-cache rationale.
func (s *SQLiteMetadataStore) ReplaceLeaves(ctx context.Context, docID string, leaves []Leaf) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	priorByHash := make(map[string][]float32)
	rows, err := tx.QueryContext(ctx, `SELECT text_hash, embedding FROM leaves WHERE doc_id = ? AND embedding IS NOT NULL`, docID)
	if err != nil {
		return fmt.Errorf("query prior embeddings: %w", err)
	}
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			rows.Close()
			return fmt.Errorf("scan prior embedding: %w", err)
		}
		priorByHash[hash] = decodeEmbedding(blob)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM leaves WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("clear leaves: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leaves (leaf_id, doc_id, node_id, start_char, end_char, text_hash, shard_id, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert leaf: %w", err)
	}
	defer stmt.Close()

	for i := range leaves {
		l := &leaves[i]
		if l.Embedding == nil {
			if cached, ok := priorByHash[l.TextHash]; ok {
				l.Embedding = cached
			}
		}
		var blob []byte
		if l.Embedding != nil {
			blob = encodeEmbedding(l.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, l.LeafID, docID, l.NodeID, l.StartChar, l.EndChar, l.TextHash, l.ShardID, blob); err != nil {
			return fmt.Errorf("insert leaf %s: %w", l.LeafID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteMetadataStore) LeavesForDoc(ctx context.Context, docID string) ([]Leaf, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT leaf_id, doc_id, node_id, start_char, end_char, text_hash, shard_id, embedding
		FROM leaves WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("query leaves: %w", err)
	}
	defer rows.Close()
	return scanLeaves(rows)
}

func (s *SQLiteMetadataStore) LeavesByID(ctx context.Context, leafIDs []string) ([]Leaf, error) {
	if len(leafIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(leafIDs)*2)
	args := make([]any, len(leafIDs))
	for i, id := range leafIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT leaf_id, doc_id, node_id, start_char, end_char, text_hash, shard_id, embedding
		FROM leaves WHERE leaf_id IN (%s)`, string(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaves by id: %w", err)
	}
	defer rows.Close()
	return scanLeaves(rows)
}

func scanLeaves(rows *sql.Rows) ([]Leaf, error) {
	var out []Leaf
	for rows.Next() {
		var l Leaf
		var blob []byte
		if err := rows.Scan(&l.LeafID, &l.DocID, &l.NodeID, &l.StartChar, &l.EndChar, &l.TextHash, &l.ShardID, &blob); err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		if blob != nil {
			l.Embedding = decodeEmbedding(blob)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) SetEmbedding(ctx context.Context, leafID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE leaves SET embedding = ? WHERE leaf_id = ?`, encodeEmbedding(embedding), leafID)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) ShardSizes(ctx context.Context) (map[uint32]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shard_id, COUNT(*) FROM leaves GROUP BY shard_id`)
	if err != nil {
		return nil, fmt.Errorf("query shard sizes: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32]int)
	for rows.Next() {
		var shardID uint32
		var count int
		if err := rows.Scan(&shardID, &count); err != nil {
			return nil, fmt.Errorf("scan shard size: %w", err)
		}
		out[shardID] = count
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetMeta(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

func (s *SQLiteMetadataStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)
