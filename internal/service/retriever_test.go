package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/domain"
)

func TestBuildQuery_Deterministic(t *testing.T) {
	state := subclinicalState(t)

	q1 := BuildQuery(state, 6)
	q2 := BuildQuery(state, 6)

	assert.Equal(t, q1.Text, q2.Text)
	assert.Contains(t, q1.Text, "autoimmune-subclinical-or-evolving-hypo")
	assert.Contains(t, q1.Text, "Anti_TPO=high")
	assert.Contains(t, q1.Text, "TSH=high")
	assert.Contains(t, q1.Text, "fatigue")
}

func TestRetriever_DedupesBySection(t *testing.T) {
	store := &fakeStore{results: []domain.ScoredChunk{
		chunkAt("c1", "doc1", "Subclinical Hypothyroidism", 0.95),
		chunkAt("c2", "doc1", "Subclinical Hypothyroidism", 0.90), // same section, dropped
		chunkAt("c3", "doc1", "Autoimmune Thyroiditis", 0.85),
		chunkAt("c4", "doc2", "Subclinical Hypothyroidism", 0.80),
	}}
	r := NewRetriever(store, 6, testLogger())

	rctx, err := r.Retrieve(context.Background(), subclinicalState(t))

	require.NoError(t, err)
	require.Len(t, rctx.Chunks, 3)
	assert.Equal(t, []string{"c1", "c3", "c4"}, rctx.ChunkIDs())
}

func TestRetriever_TruncatesToTopK(t *testing.T) {
	var results []domain.ScoredChunk
	for i := 0; i < 10; i++ {
		results = append(results, chunkAt(
			fmt.Sprintf("c%d", i), fmt.Sprintf("doc%d", i), "s", 1.0-float64(i)*0.05))
	}
	r := NewRetriever(&fakeStore{results: results}, 3, testLogger())

	rctx, err := r.Retrieve(context.Background(), subclinicalState(t))

	require.NoError(t, err)
	assert.Len(t, rctx.Chunks, 3)
}

func TestRetriever_EmptyCorpusIsNotAnError(t *testing.T) {
	r := NewRetriever(&fakeStore{}, 6, testLogger())

	rctx, err := r.Retrieve(context.Background(), subclinicalState(t))

	require.NoError(t, err)
	assert.True(t, rctx.Empty())
}

func TestRetriever_SearchErrorSurfaces(t *testing.T) {
	store := &fakeStore{searchErr: fmt.Errorf("wrapped: %w", domain.ErrEmbeddingUnavailable)}
	r := NewRetriever(store, 6, testLogger())

	_, err := r.Retrieve(context.Background(), subclinicalState(t))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}
