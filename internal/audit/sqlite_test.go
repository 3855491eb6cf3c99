package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(requestID string) *domain.DiagnosisReport {
	return &domain.DiagnosisReport{
		RequestID:     requestID,
		ThyroidStatus: domain.StatusSubclinicalHypo,
		Candidates: []domain.DiagnosisCandidate{
			{Condition: "early Hashimoto's thyroiditis", Probability: 0.6},
		},
		Confidence:      domain.ConfidenceNormal,
		ConfidenceScore: 0.85,
		GeneratedAt:     time.Now().UTC(),
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "audit.db")
	store, err := NewSQLiteStore(dbPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rec, err := NewRecord(sampleReport("req-1"))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "subclinical-hypothyroid", got.ThyroidStatus)
	assert.Equal(t, "normal", got.Confidence)
	assert.InDelta(t, 0.85, got.ConfidenceScore, 1e-9)

	var report domain.DiagnosisReport
	require.NoError(t, json.Unmarshal(got.Report, &report))
	assert.Equal(t, "early Hashimoto's thyroiditis", report.Candidates[0].Condition)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := createTestStore(t)

	got, err := store.Get(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ListAndCount(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		rec, err := NewRecord(sampleReport(id))
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, rec))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	records, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// newest first
	assert.Equal(t, "req-3", records[0].RequestID)

	rest, err := store.List(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "req-1", rest[0].RequestID)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rec, err := NewRecord(sampleReport("req-1"))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, rec))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Records, 1)
	assert.Equal(t, "req-1", export.Records[0].RequestID)
}
