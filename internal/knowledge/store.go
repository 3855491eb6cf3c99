package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thyroid-rag-server/internal/domain"
)

// keyedMutex serializes writes per document id. Different document ids may
// ingest concurrently; the same id never does.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given key and returns its unlock func.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &sync.Mutex{}
		km.locks[key] = l
	}
	km.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// buildChunks splits a document, embeds every piece in one batch, and
// assembles the immutable chunk records.
func buildChunks(ctx context.Context, chunker *Chunker, embedder domain.Embedder, doc domain.Document) ([]domain.KnowledgeChunk, error) {
	pieces := chunker.Split(doc.Text)
	if len(pieces) == 0 {
		return nil, domain.NewValidationError("text", "document produced no chunks", doc.ID)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	embeddings, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	if len(embeddings) != len(pieces) {
		return nil, fmt.Errorf("embedding document %s: got %d vectors for %d chunks: %w",
			doc.ID, len(embeddings), len(pieces), domain.ErrEmbeddingUnavailable)
	}

	now := time.Now().UTC()
	chunks := make([]domain.KnowledgeChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.KnowledgeChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Text:       p.Text,
			Embedding:  embeddings[i],
			Title:      doc.Title,
			Section:    p.Section,
			Ordinal:    i,
			IngestedAt: now,
		}
	}
	return chunks, nil
}

// encodeEmbedding serializes a vector for SQL storage.
func encodeEmbedding(v []float32) ([]byte, error) {
	return json.Marshal(v)
}

// decodeEmbedding deserializes a stored vector.
func decodeEmbedding(data []byte) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return v, nil
}
