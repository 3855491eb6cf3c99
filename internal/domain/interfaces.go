package domain

import (
	"context"
)

// Embedder computes fixed-size vector representations of text. Implementations
// talk to an external embedding service; unavailability surfaces as
// ErrEmbeddingUnavailable and is never silently swallowed.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// GenerativeBackend is the capability interface around the non-deterministic
// generative model. It is only ever called through the consistency guard,
// never directly by business logic. Submit returns the raw model text; the
// synthesizer owns parsing and contract validation.
type GenerativeBackend interface {
	Submit(ctx context.Context, prompt string) (string, error)
}

// KnowledgeStore is the durable, queryable index of literature chunks.
//
// Ingest is idempotent per document id: re-ingesting replaces the document's
// prior chunks atomically, so readers never observe a partially-replaced
// document or a window with zero coverage. Search ordering is deterministic:
// score descending, then most recent ingestion time, then lexical chunk id.
type KnowledgeStore interface {
	Ingest(ctx context.Context, doc Document) ([]string, error)
	Search(ctx context.Context, queryText string, k int) ([]ScoredChunk, error)
	Delete(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
