package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/thyroid-rag-server/internal/domain"
)

// SQLiteStore implements domain.KnowledgeStore on SQLite. The database holds
// the durable corpus; similarity search runs against the in-memory
// VectorIndex, rebuilt from disk at startup.
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	embedder domain.Embedder
	chunker  *Chunker
	index    *VectorIndex
	docLocks *keyedMutex
	logger   *logrus.Logger
}

// NewSQLiteStore opens (or creates) the SQLite corpus at dbPath and loads
// the vector index from it.
func NewSQLiteStore(dbPath string, embedder domain.Embedder, chunker *Chunker, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode so concurrent searches never block behind an ingest
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		embedder: embedder,
		chunker:  chunker,
		index:    NewVectorIndex(),
		docLocks: newKeyedMutex(),
		logger:   logger,
	}

	if err := store.loadIndex(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":   dbPath,
		"chunks": store.index.Len(),
	}).Info("Knowledge store opened")

	return store, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		title TEXT DEFAULT '',
		section TEXT DEFAULT '',
		ordinal INTEGER NOT NULL,
		ingested_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	`
	_, err := db.Exec(schema)
	return err
}

// loadIndex rebuilds the in-memory vector index from the persisted corpus.
func (s *SQLiteStore) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, text, embedding, title, section, ordinal, ingested_at
		FROM chunks
		ORDER BY document_id, ordinal
	`)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byDoc := make(map[string][]domain.KnowledgeChunk)
	for rows.Next() {
		var chunk domain.KnowledgeChunk
		var embedding []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Text, &embedding,
			&chunk.Title, &chunk.Section, &chunk.Ordinal, &chunk.IngestedAt); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		if chunk.Embedding, err = decodeEmbedding(embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		byDoc[chunk.DocumentID] = append(byDoc[chunk.DocumentID], chunk)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for docID, chunks := range byDoc {
		s.index.ReplaceDocument(docID, chunks)
	}
	return nil
}

// Ingest chunks, embeds, and persists a document. Idempotent per document
// id: prior chunks are replaced in the same transaction that writes the new
// ones, so there is never a retrieval window with zero coverage.
func (s *SQLiteStore) Ingest(ctx context.Context, doc domain.Document) ([]string, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	unlock := s.docLocks.Lock(doc.ID)
	defer unlock()

	chunks, err := buildChunks(ctx, s.chunker, s.embedder, doc)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks {
		embedding, err := encodeEmbedding(chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, text, embedding, title, section, ordinal, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, chunk.ID, chunk.DocumentID, chunk.Text, embedding,
			chunk.Title, chunk.Section, chunk.Ordinal, chunk.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	// old chunks go only after the new generation is fully written
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id = ? AND ingested_at < ?",
		doc.ID, chunks[0].IngestedAt); err != nil {
		return nil, fmt.Errorf("failed to remove prior chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}

	s.index.ReplaceDocument(doc.ID, chunks)

	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"chunks":      len(ids),
	}).Info("Document ingested")

	return ids, nil
}

// Search embeds the query text and returns the k nearest chunks.
func (s *SQLiteStore) Search(ctx context.Context, queryText string, k int) ([]domain.ScoredChunk, error) {
	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d: %w",
			len(vectors), domain.ErrEmbeddingUnavailable)
	}
	return s.index.Search(vectors[0], k), nil
}

// Delete removes all chunks for a document; never partial.
func (s *SQLiteStore) Delete(ctx context.Context, documentID string) error {
	unlock := s.docLocks.Lock(documentID)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.index.RemoveDocument(documentID)
	return nil
}

// Count returns the total number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.KnowledgeStore = (*SQLiteStore)(nil)
