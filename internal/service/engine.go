package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/audit"
	"github.com/thyroid-rag-server/internal/domain"
)

// Engine ties the pipeline together: normalize, retrieve, synthesize under
// the guard, audit, return. It is the single entry point the transports use.
type Engine struct {
	normalizer *Normalizer
	retriever  *Retriever
	guard      *ConsistencyGuard
	store      domain.KnowledgeStore
	auditStore audit.Store
	references *domain.ReferenceTable
	logger     *logrus.Logger
}

// NewEngine assembles the diagnosis engine. auditStore may be nil when
// auditing is disabled.
func NewEngine(
	normalizer *Normalizer,
	retriever *Retriever,
	guard *ConsistencyGuard,
	store domain.KnowledgeStore,
	auditStore audit.Store,
	references *domain.ReferenceTable,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		normalizer: normalizer,
		retriever:  retriever,
		guard:      guard,
		store:      store,
		auditStore: auditStore,
		references: references,
		logger:     logger,
	}
}

// Diagnose runs the full pipeline for one lab panel. Input errors (unknown
// analyte, unit mismatch, empty panel) are returned to the caller; backend
// failures degrade to the rule-derived fallback instead of failing.
func (e *Engine) Diagnose(ctx context.Context, panel domain.LabPanel, symptoms []string) (*domain.DiagnosisReport, error) {
	requestID := uuid.NewString()
	started := time.Now()

	log := e.logger.WithField("request_id", requestID)

	state, err := e.normalizer.Normalize(panel, symptoms)
	if err != nil {
		log.WithError(err).Warn("Rejecting lab panel")
		return nil, err
	}

	rctx, err := e.retriever.Retrieve(ctx, state)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			log.WithError(err).Warn("Embedding backend unavailable, continuing without literature")
			rctx = &domain.RetrievedContext{Query: BuildQuery(state, 0)}
		} else {
			return nil, fmt.Errorf("retrieving literature: %w", err)
		}
	}

	report := e.guard.Produce(ctx, requestID, state, rctx, panel)
	if err := report.Validate(); err != nil {
		// the guard constructs reports, so this indicates a bug
		return nil, fmt.Errorf("report failed validation: %w", err)
	}

	e.record(ctx, report, log)

	log.WithFields(logrus.Fields{
		"status":      report.ThyroidStatus.String(),
		"candidates":  len(report.Candidates),
		"confidence":  report.Confidence.String(),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("Diagnosis complete")

	return report, nil
}

// record persists the report to the audit log. Audit failures are logged
// and swallowed; they never fail a diagnosis.
func (e *Engine) record(ctx context.Context, report *domain.DiagnosisReport, log *logrus.Entry) {
	if e.auditStore == nil {
		return
	}
	rec, err := audit.NewRecord(report)
	if err != nil {
		log.WithError(err).Error("Failed to build audit record")
		return
	}
	if err := e.auditStore.Save(ctx, rec); err != nil {
		log.WithError(err).Error("Failed to save audit record")
	}
}

// IngestDocument chunks, embeds, and stores one document, replacing any
// earlier version with the same id. Returns the document id.
func (e *Engine) IngestDocument(ctx context.Context, doc domain.Document) (string, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return "", domain.NewValidationError("text", "document text is empty", nil)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	chunkIDs, err := e.store.Ingest(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("ingesting document %s: %w", doc.ID, err)
	}
	e.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"title":       doc.Title,
		"chunks":      len(chunkIDs),
		"bytes":       len(doc.Text),
	}).Info("Document ingested")
	return doc.ID, nil
}

// DeleteDocument removes a document and all of its chunks.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	if err := e.store.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	e.logger.WithField("document_id", documentID).Info("Document deleted")
	return nil
}

// CorpusSize reports the number of chunks currently indexed.
func (e *Engine) CorpusSize(ctx context.Context) (int64, error) {
	return e.store.Count(ctx)
}

// ReferenceRanges exposes the read-only reference table.
func (e *Engine) ReferenceRanges() []domain.ReferenceRange {
	return e.references.Ranges()
}

// AuditStore exposes the audit log for the transport layer, nil when
// auditing is disabled.
func (e *Engine) AuditStore() audit.Store {
	return e.auditStore
}
