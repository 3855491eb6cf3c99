// Package audit provides an append-only log of issued diagnosis reports.
// Every report the engine returns is recorded so a reviewer can later see
// exactly what was said for a given request.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/thyroid-rag-server/internal/domain"
)

// Record is one audited diagnosis report.
type Record struct {
	ID              int64           `json:"id,omitempty"`
	RequestID       string          `json:"request_id"`
	ThyroidStatus   string          `json:"thyroid_status"`
	Confidence      string          `json:"confidence"`
	ConfidenceScore float64         `json:"confidence_score"`
	Report          json.RawMessage `json:"report"` // full DiagnosisReport
	CreatedAt       time.Time       `json:"created_at"`
}

// NewRecord builds a record from a finished report.
func NewRecord(report *domain.DiagnosisReport) (*Record, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return &Record{
		RequestID:       report.RequestID,
		ThyroidStatus:   report.ThyroidStatus.String(),
		Confidence:      report.Confidence.String(),
		ConfidenceScore: report.ConfidenceScore,
		Report:          raw,
	}, nil
}

// Store defines the interface for audit log storage.
type Store interface {
	// Save appends a record. Records are never updated.
	Save(ctx context.Context, record *Record) error

	// Get retrieves the record for a request id, nil if absent.
	Get(ctx context.Context, requestID string) (*Record, error)

	// List returns records newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every record to the writer as one JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// Export is the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}
