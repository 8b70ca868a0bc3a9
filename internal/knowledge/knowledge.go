// Package knowledge provides the partitioned document store consulted
// during triage: general docs, known error patterns, and past
// incidents. Documents are ranked by embedding similarity.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sentinelworks/triage/internal/rules"

	_ "modernc.org/sqlite"
)

// Well-known partitions searched by the pipeline.
const (
	PartitionDocs          = "knowledge_base"
	PartitionErrorPatterns = "error_patterns"
	PartitionIncidents     = "past_incidents"
)

// Document is one stored knowledge entry with optional metadata.
type Document struct {
	ID        string         `json:"id"`
	Partition string         `json:"partition"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Relevance float64        `json:"relevance_score,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the knowledge collaborator contract. A missing partition is
// not an error; it yields an empty result. Append never overwrites.
type Store interface {
	Search(ctx context.Context, query, partition string, k int) ([]Document, error)
	Append(ctx context.Context, doc Document, partition string) error
	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite with embeddings
// stored alongside each document.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore opens (or creates) the knowledge database at the
// given path.
func NewSQLiteStore(dbPath string, embedder Embedder) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge database: %w", err)
	}

	// Single writer, same as the session store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}

	return &SQLiteStore{db: db, embedder: embedder}, nil
}

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Append stores a new document in the partition. Existing documents
// are never modified.
func (s *SQLiteStore) Append(ctx context.Context, doc Document, partition string) error {
	if doc.ID == "" {
		doc.ID = newULID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	var embJSON = "[]"
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{doc.Content})
		if err == nil && len(vectors) == 1 {
			b, merr := json.Marshal(vectors[0])
			if merr == nil {
				embJSON = string(b)
			}
		}
	}

	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, partition, doc.Content, string(metaJSON), embJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("append document: %w", err)
	}
	return nil
}

// Search ranks the partition's documents against the query by cosine
// similarity and returns the top k. An empty partition yields an empty
// slice and no error.
func (s *SQLiteStore) Search(ctx context.Context, query, partition string, k int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection, content, metadata, embedding, created_at FROM documents WHERE collection = ?`,
		partition)
	if err != nil {
		return nil, fmt.Errorf("query partition %s: %w", partition, err)
	}
	defer rows.Close()

	type scored struct {
		doc Document
		vec []float64
	}
	var docs []scored
	for rows.Next() {
		var d Document
		var metaJSON, embJSON string
		if err := rows.Scan(&d.ID, &d.Partition, &d.Content, &metaJSON, &embJSON, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
		var vec []float64
		_ = json.Unmarshal([]byte(embJSON), &vec)
		docs = append(docs, scored{doc: d, vec: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var queryVec []float64
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vectors[0]
	}

	for i := range docs {
		docs[i].doc.Relevance = rules.CosineSimilarity(queryVec, docs[i].vec)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].doc.Relevance > docs[j].doc.Relevance
	})

	if k > len(docs) {
		k = len(docs)
	}
	out := make([]Document, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, docs[i].doc)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
