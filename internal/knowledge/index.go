package knowledge

import (
	"math"
	"sort"
	"sync"

	"github.com/thyroid-rag-server/internal/domain"
)

// VectorIndex is the in-memory similarity index over the persisted corpus.
// Reads are lock-free of the stores' write paths: document replacement swaps
// entries under the write lock, so searches never observe a half-replaced
// document.
type VectorIndex struct {
	mu     sync.RWMutex
	chunks map[string][]domain.KnowledgeChunk // document id → its chunks
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{chunks: make(map[string][]domain.KnowledgeChunk)}
}

// ReplaceDocument atomically swaps a document's chunks.
func (ix *VectorIndex) ReplaceDocument(documentID string, chunks []domain.KnowledgeChunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(chunks) == 0 {
		delete(ix.chunks, documentID)
		return
	}
	ix.chunks[documentID] = chunks
}

// RemoveDocument drops all chunks for a document; never partial.
func (ix *VectorIndex) RemoveDocument(documentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.chunks, documentID)
}

// Len returns the total number of indexed chunks.
func (ix *VectorIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, cs := range ix.chunks {
		n += len(cs)
	}
	return n
}

// Search returns the k nearest chunks to the query vector by cosine
// similarity. Ordering is deterministic: score descending, ties broken by
// most recent ingestion time, then lexical chunk id. Returned chunks carry
// text and provenance but not the stored vectors.
func (ix *VectorIndex) Search(query []float32, k int) []domain.ScoredChunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(query) == 0 {
		return nil
	}

	scored := make([]domain.ScoredChunk, 0, 64)
	for _, chunks := range ix.chunks {
		for _, chunk := range chunks {
			score := cosineSimilarity(query, chunk.Embedding)
			stripped := chunk
			stripped.Embedding = nil
			scored = append(scored, domain.ScoredChunk{Chunk: stripped, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Chunk.IngestedAt.Equal(b.Chunk.IngestedAt) {
			return a.Chunk.IngestedAt.After(b.Chunk.IngestedAt)
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
