package service

import (
	"context"
	"fmt"
	"time"

	"github.com/thyroid-rag-server/internal/domain"
)

// fakeStore is an in-memory KnowledgeStore returning canned search results.
type fakeStore struct {
	results   []domain.ScoredChunk
	searchErr error
	ingested  []domain.Document
	deleted   []string
}

func (f *fakeStore) Ingest(_ context.Context, doc domain.Document) ([]string, error) {
	f.ingested = append(f.ingested, doc)
	return []string{doc.ID + "-chunk-0"}, nil
}

func (f *fakeStore) Search(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeStore) Delete(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

func (f *fakeStore) Count(context.Context) (int64, error) {
	return int64(len(f.results)), nil
}

func (f *fakeStore) Close() error { return nil }

// fakeBackend replays scripted responses, one per Submit call, repeating the
// last one when the script runs out.
type fakeBackend struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeBackend) Submit(_ context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func chunkAt(id, docID, section string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.KnowledgeChunk{
			ID:         id,
			DocumentID: docID,
			Text:       "chunk text for " + id,
			Title:      "Thyroid Disorders",
			Section:    section,
			IngestedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Score: score,
	}
}

// subclinicalState builds the clinical state for a high-TSH, normal-FT4,
// antibody-positive panel.
func subclinicalState(t interface{ Fatalf(string, ...interface{}) }) *domain.ClinicalState {
	state, err := testNormalizer().Normalize(domain.LabPanel{
		"TSH":      {Value: 5.2, Unit: "μIU/mL"},
		"Free_T4":  {Value: 0.9, Unit: "ng/dL"},
		"Anti_TPO": {Value: 150, Unit: "IU/mL"},
	}, []string{"fatigue", "weight gain", "cold intolerance"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return state
}
