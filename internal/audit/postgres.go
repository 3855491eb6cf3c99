package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store. It expects the
// schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL audit store from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save appends a record.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	now := time.Now()

	query := `
		INSERT INTO audit_log (
			request_id, thyroid_status, confidence, confidence_score, report, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		record.RequestID,
		record.ThyroidStatus,
		record.Confidence,
		record.ConfidenceScore,
		string(record.Report),
		now,
	).Scan(&record.ID)

	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	record.CreatedAt = now
	return nil
}

// Get retrieves the record for a request id, nil if absent.
func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Record, error) {
	query := `
		SELECT id, request_id, thyroid_status, confidence, confidence_score, report, created_at
		FROM audit_log
		WHERE request_id = $1
		LIMIT 1
	`

	rec := &Record{}
	var report string
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&rec.ID, &rec.RequestID, &rec.ThyroidStatus,
		&rec.Confidence, &rec.ConfidenceScore, &report, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec.Report = json.RawMessage(report)
	return rec, nil
}

// List returns records newest first with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	query := `
		SELECT id, request_id, thyroid_status, confidence, confidence_score, report, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		var report string
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.ThyroidStatus,
			&rec.Confidence, &rec.ConfidenceScore, &report, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Report = json.RawMessage(report)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ExportJSON exports all records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Records:    all,
	}

	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
