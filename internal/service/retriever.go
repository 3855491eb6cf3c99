package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// Retriever turns a clinical state into a literature query and fetches the
// best-matching knowledge chunks for the synthesizer.
type Retriever struct {
	store  domain.KnowledgeStore
	topK   int
	logger *logrus.Logger
}

// NewRetriever creates a retriever over the given knowledge store.
func NewRetriever(store domain.KnowledgeStore, topK int, logger *logrus.Logger) *Retriever {
	return &Retriever{store: store, topK: topK, logger: logger}
}

// BuildQuery renders the fixed retrieval template for a clinical state.
// Analytes are emitted in sorted order so identical states always produce
// the identical query string.
func BuildQuery(state *domain.ClinicalState, topK int) domain.RetrievalQuery {
	var b strings.Builder
	b.WriteString("thyroid axis pattern: ")
	b.WriteString(state.AxisPattern.String())

	analytes := make([]string, 0, len(state.Categories))
	for analyte := range state.Categories {
		analytes = append(analytes, analyte)
	}
	sort.Strings(analytes)

	b.WriteString(" | analytes:")
	for _, analyte := range analytes {
		fmt.Fprintf(&b, " %s=%s", analyte, state.Categories[analyte])
	}

	if tags := state.SymptomTags(); len(tags) > 0 {
		b.WriteString(" | symptoms: ")
		b.WriteString(strings.Join(tags, ", "))
	}

	return domain.RetrievalQuery{Text: b.String(), TopK: topK}
}

// Retrieve searches the corpus for the state's query. An empty corpus or a
// query with no hits yields an empty context, not an error; embedding
// failures surface to the caller.
func (r *Retriever) Retrieve(ctx context.Context, state *domain.ClinicalState) (*domain.RetrievedContext, error) {
	query := BuildQuery(state, r.topK)

	// over-fetch so section dedup still fills topK slots
	scored, err := r.store.Search(ctx, query.Text, query.TopK*2)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge store: %w", err)
	}

	deduped := dedupeBySection(scored, r.topK)

	r.logger.WithFields(logrus.Fields{
		"query_len": len(query.Text),
		"raw_hits":  len(scored),
		"kept":      len(deduped),
	}).Debug("Literature retrieval complete")

	return &domain.RetrievedContext{Chunks: deduped, Query: query}, nil
}

// dedupeBySection keeps the highest-scoring chunk per (document, section)
// pair, preserving score order, and truncates to limit.
func dedupeBySection(scored []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	seen := make(map[string]bool, len(scored))
	kept := make([]domain.ScoredChunk, 0, limit)
	for _, sc := range scored {
		key := sc.Chunk.DocumentID + "\x00" + sc.Chunk.Section
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, sc)
		if len(kept) == limit {
			break
		}
	}
	return kept
}
