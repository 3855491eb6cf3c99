package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/domain"
)

func testPanel() domain.LabPanel {
	return domain.LabPanel{
		"TSH":      {Value: 5.2, Unit: "μIU/mL"},
		"Free_T4":  {Value: 0.9, Unit: "ng/dL"},
		"Anti_TPO": {Value: 150, Unit: "IU/mL"},
	}
}

func newGuard(backend *fakeBackend, retryBudget int) *ConsistencyGuard {
	synthesizer := NewSynthesizer(backend, 6, testLogger())
	return NewConsistencyGuard(synthesizer, NewRecommender(), retryBudget, testLogger())
}

const goodResponse = `{
	"candidates": [
		{"condition": "early Hashimoto's thyroiditis", "probability": 0.6, "rationale": "r", "cited_chunk_ids": ["c1"]}
	]
}`

func TestGuard_HappyPath(t *testing.T) {
	g := newGuard(&fakeBackend{responses: []string{goodResponse}}, 2)
	state := subclinicalState(t)
	rctx := testContext(chunkAt("c1", "doc1", "a", 0.9))

	report := g.Produce(context.Background(), "req-1", state, rctx, testPanel())

	require.NoError(t, report.Validate())
	assert.Equal(t, domain.StatusSubclinicalHypo, report.ThyroidStatus)
	assert.Equal(t, domain.ConfidenceNormal, report.Confidence)
	assert.Equal(t, []string{"c1"}, report.CitedChunkIDs)
	// full panel plus antibodies plus symptoms hits the 0.95 cap
	assert.InDelta(t, 0.95, report.ConfidenceScore, 1e-9)
}

func TestGuard_RetriesMalformedOutputThenSucceeds(t *testing.T) {
	backend := &fakeBackend{responses: []string{"not json", goodResponse}}
	g := newGuard(backend, 2)
	state := subclinicalState(t)
	rctx := testContext(chunkAt("c1", "doc1", "a", 0.9))

	report := g.Produce(context.Background(), "req-2", state, rctx, testPanel())

	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, domain.ConfidenceNormal, report.Confidence)
	// the retry reuses the identical prompt
	require.Len(t, backend.prompts, 2)
	assert.Equal(t, backend.prompts[0], backend.prompts[1])
}

func TestGuard_ExhaustedBudgetFallsBack(t *testing.T) {
	backend := &fakeBackend{responses: []string{"not json", "still not json", "nope"}}
	g := newGuard(backend, 2)
	state := subclinicalState(t)
	rctx := testContext(chunkAt("c1", "doc1", "a", 0.9))

	report := g.Produce(context.Background(), "req-3", state, rctx, testPanel())

	assert.Equal(t, 3, backend.calls)
	require.NoError(t, report.Validate())
	assert.Equal(t, domain.ConfidenceLow, report.Confidence)
	assert.Equal(t, domain.StatusSubclinicalHypo, report.ThyroidStatus)
	// rule fallback favors early Hashimoto's when anti-TPO is positive
	require.NotEmpty(t, report.Candidates)
	assert.Equal(t, "early Hashimoto's thyroiditis", report.Candidates[0].Condition)
	assert.NotEmpty(t, report.LiteratureNote)
}

func TestGuard_BackendDownFallsBack(t *testing.T) {
	backend := &fakeBackend{errs: []error{
		domain.ErrGenerativeBackendUnavailable,
		domain.ErrGenerativeBackendTimeout,
		domain.ErrGenerativeBackendUnavailable,
	}}
	g := newGuard(backend, 2)
	state := subclinicalState(t)

	report := g.Produce(context.Background(), "req-4", state, testContext(), testPanel())

	require.NoError(t, report.Validate())
	assert.Equal(t, domain.ConfidenceLow, report.Confidence)
	assert.NotEmpty(t, report.Candidates)
}

func TestGuard_EmptyContextMarksLowConfidence(t *testing.T) {
	response := `{"candidates": [{"condition": "subclinical hypothyroidism", "probability": 0.7, "rationale": "r", "cited_chunk_ids": []}]}`
	g := newGuard(&fakeBackend{responses: []string{response}}, 0)
	state := subclinicalState(t)

	report := g.Produce(context.Background(), "req-5", state, testContext(), testPanel())

	assert.Equal(t, domain.ConfidenceLow, report.Confidence)
}

func TestGuard_DiscrepancyNoted(t *testing.T) {
	// a confident hypo-leaning pattern with a purely hyper differential
	response := `{"candidates": [{"condition": "Graves' disease", "probability": 0.8, "rationale": "r", "cited_chunk_ids": ["c1"]}]}`
	g := newGuard(&fakeBackend{responses: []string{response}}, 0)
	state := subclinicalState(t)
	rctx := testContext(chunkAt("c1", "doc1", "a", 0.9))

	report := g.Produce(context.Background(), "req-6", state, rctx, testPanel())

	// status still follows the laboratory pattern
	assert.Equal(t, domain.StatusSubclinicalHypo, report.ThyroidStatus)
	assert.Contains(t, report.LiteratureNote, "laboratory pattern")
}
