package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/audit"
	"github.com/thyroid-rag-server/internal/config"
	"github.com/thyroid-rag-server/internal/domain"
	"github.com/thyroid-rag-server/internal/service"
)

// fakeStore serves canned search results so no embedding backend is needed.
type fakeStore struct {
	results []domain.ScoredChunk
}

func (f *fakeStore) Ingest(_ context.Context, doc domain.Document) ([]string, error) {
	return []string{doc.ID + "-chunk-0"}, nil
}

func (f *fakeStore) Search(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }

func (f *fakeStore) Count(context.Context) (int64, error) {
	return int64(len(f.results)), nil
}

func (f *fakeStore) Close() error { return nil }

// fakeBackend always returns the same model output.
type fakeBackend struct {
	response string
}

func (f *fakeBackend) Submit(context.Context, string) (string, error) {
	return f.response, nil
}

// fakeAudit is an in-memory audit store keyed by request id.
type fakeAudit struct {
	records map[string]*audit.Record
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{records: make(map[string]*audit.Record)}
}

func (f *fakeAudit) Save(_ context.Context, rec *audit.Record) error {
	rec.ID = int64(len(f.records) + 1)
	rec.CreatedAt = time.Now().UTC()
	f.records[rec.RequestID] = rec
	return nil
}

func (f *fakeAudit) Get(_ context.Context, requestID string) (*audit.Record, error) {
	return f.records[requestID], nil
}

func (f *fakeAudit) List(_ context.Context, limit, _ int) ([]*audit.Record, error) {
	var out []*audit.Record
	for _, rec := range f.records {
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeAudit) Count(context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

func (f *fakeAudit) ExportJSON(context.Context, io.Writer) error { return nil }

func (f *fakeAudit) Close() error { return nil }

const modelOutput = `{
	"candidates": [
		{"condition": "early Hashimoto's thyroiditis", "probability": 0.6, "rationale": "elevated TSH with positive TPO antibodies", "cited_chunk_ids": ["c1"]}
	],
	"literature_note": "guideline excerpt"
}`

func newTestServer(t *testing.T, auditStore audit.Store) *Server {
	t.Helper()

	configManager, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := &fakeStore{results: []domain.ScoredChunk{{
		Chunk: domain.KnowledgeChunk{
			ID:         "c1",
			DocumentID: "doc1",
			Text:       "Subclinical hypothyroidism is defined by elevated TSH with normal free T4.",
			Title:      "Thyroid Disorders",
			Section:    "subclinical",
			IngestedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Score: 0.9,
	}}}

	references := domain.NewReferenceTable(domain.DefaultReferenceRanges())
	normalizer := service.NewNormalizer(references, 10, logger)
	retriever := service.NewRetriever(store, 6, logger)
	synthesizer := service.NewSynthesizer(&fakeBackend{response: modelOutput}, 6, logger)
	guard := service.NewConsistencyGuard(synthesizer, service.NewRecommender(), 2, logger)
	engine := service.NewEngine(normalizer, retriever, guard, store, auditStore, references, logger)

	return NewServer(configManager, engine, references, logger)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func diagnoseBody(format string) map[string]interface{} {
	return map[string]interface{}{
		"lab_results": map[string]interface{}{
			"TSH":      map[string]interface{}{"value": 5.2, "unit": "μIU/mL"},
			"Free_T4":  map[string]interface{}{"value": 0.9, "unit": "ng/dL"},
			"Anti_TPO": map[string]interface{}{"value": 150, "unit": "IU/mL"},
		},
		"symptoms": []string{"fatigue", "weight gain"},
		"format":   format,
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(1), resp["corpus_chunks"])
}

func TestDiagnoseEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodPost, "/api/v1/diagnose", diagnoseBody(""))

	require.Equal(t, http.StatusOK, w.Code)
	var report domain.DiagnosisReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, domain.StatusSubclinicalHypo, report.ThyroidStatus)
	assert.Equal(t, domain.ConfidenceNormal, report.Confidence)
	require.NotEmpty(t, report.Candidates)
	assert.Equal(t, "early Hashimoto's thyroiditis", report.Candidates[0].Condition)
	assert.Equal(t, []string{"c1"}, report.CitedChunkIDs)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestDiagnoseEndpoint_Markdown(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodPost, "/api/v1/diagnose", diagnoseBody("markdown"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "# Thyroid Function Report")
	assert.Contains(t, w.Body.String(), "**TSH**")
}

func TestDiagnoseEndpoint_UnknownAnalyte(t *testing.T) {
	server := newTestServer(t, nil)

	body := map[string]interface{}{
		"lab_results": map[string]interface{}{
			"Vitamin_D": map[string]interface{}{"value": 30},
		},
	}
	w := doJSON(t, server, http.MethodPost, "/api/v1/diagnose", body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Vitamin_D")
}

func TestDiagnoseEndpoint_MissingLabResults(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodPost, "/api/v1/diagnose", map[string]interface{}{
		"symptoms": []string{"fatigue"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodPost, "/api/v1/documents", map[string]interface{}{
		"id":    "guideline-1",
		"title": "Subclinical Hypothyroidism",
		"text":  "Treatment is generally recommended when TSH exceeds 10 mIU/L.",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "guideline-1", resp["document_id"])
}

func TestIngestEndpoint_MissingText(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodPost, "/api/v1/documents", map[string]interface{}{
		"id": "guideline-1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodDelete, "/api/v1/documents/guideline-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":true`)
}

func TestReferenceRangesEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodGet, "/api/v1/reference-ranges", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Ranges []map[string]interface{} `json:"ranges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Ranges)

	byAnalyte := make(map[string]map[string]interface{})
	for _, r := range resp.Ranges {
		byAnalyte[fmt.Sprint(r["analyte"])] = r
	}
	tsh, ok := byAnalyte["TSH"]
	require.True(t, ok)
	assert.Equal(t, "0.4-4 μIU/mL", tsh["display"])
	// threshold-only antibody range has no lower bound
	tpo, ok := byAnalyte["Anti_TPO"]
	require.True(t, ok)
	_, hasLower := tpo["lower"]
	assert.False(t, hasLower)
}

func TestReportsEndpoint_AuditDisabled(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(t, server, http.MethodGet, "/api/v1/reports/some-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportsEndpoint_RoundTrip(t *testing.T) {
	auditStore := newFakeAudit()
	server := newTestServer(t, auditStore)

	w := doJSON(t, server, http.MethodPost, "/api/v1/diagnose", diagnoseBody(""))
	require.Equal(t, http.StatusOK, w.Code)

	var report domain.DiagnosisReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.NotEmpty(t, report.RequestID)

	w = doJSON(t, server, http.MethodGet, "/api/v1/reports/"+report.RequestID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec audit.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, report.RequestID, rec.RequestID)
	assert.Equal(t, "subclinical-hypothyroid", rec.ThyroidStatus)

	w = doJSON(t, server, http.MethodGet, "/api/v1/reports?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(t, server, http.MethodGet, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
