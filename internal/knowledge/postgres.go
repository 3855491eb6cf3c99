package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// PostgresStore implements domain.KnowledgeStore on PostgreSQL. Schema is
// managed by the migrations under migrations/. Like the SQLite store, the
// database is the durable corpus and similarity search runs against the
// in-memory VectorIndex.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder domain.Embedder
	chunker  *Chunker
	index    *VectorIndex
	docLocks *keyedMutex
	logger   *logrus.Logger
}

// NewPostgresStore wraps an existing connection pool and loads the vector
// index from the chunks table.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, embedder domain.Embedder, chunker *Chunker, logger *logrus.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	store := &PostgresStore{
		pool:     pool,
		embedder: embedder,
		chunker:  chunker,
		index:    NewVectorIndex(),
		docLocks: newKeyedMutex(),
		logger:   logger,
	}

	if err := store.loadIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	logger.WithField("chunks", store.index.Len()).Info("Knowledge store opened")
	return store, nil
}

func (s *PostgresStore) loadIndex(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
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

// Ingest chunks, embeds, and persists a document with the same atomic
// replace semantics as the SQLite store.
func (s *PostgresStore) Ingest(ctx context.Context, doc domain.Document) ([]string, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	unlock := s.docLocks.Lock(doc.ID)
	defer unlock()

	chunks, err := buildChunks(ctx, s.chunker, s.embedder, doc)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, chunk := range chunks {
		embedding, err := encodeEmbedding(chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, text, embedding, title, section, ordinal, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, chunk.ID, chunk.DocumentID, chunk.Text, embedding,
			chunk.Title, chunk.Section, chunk.Ordinal, chunk.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM chunks WHERE document_id = $1 AND ingested_at < $2",
		doc.ID, chunks[0].IngestedAt); err != nil {
		return nil, fmt.Errorf("failed to remove prior chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
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
func (s *PostgresStore) Search(ctx context.Context, queryText string, k int) ([]domain.ScoredChunk, error) {
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
func (s *PostgresStore) Delete(ctx context.Context, documentID string) error {
	unlock := s.docLocks.Lock(documentID)
	defer unlock()

	if _, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.index.RemoveDocument(documentID)
	return nil
}

// Count returns the total number of stored chunks.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

// Close releases the index; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

var _ domain.KnowledgeStore = (*PostgresStore)(nil)
