package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/thyroid-rag-server/internal/domain"
)

// ResilientBackendClient wraps the embedding and generative clients with
// circuit breakers and the embedding cache. It is the only implementation of
// domain.Embedder and domain.GenerativeBackend the engine is wired with: an
// open breaker surfaces immediately as the matching unavailability error
// instead of hammering a failing backend.
type ResilientBackendClient struct {
	embedding  *EmbeddingClient
	generative *GenerativeClient
	cache      *EmbeddingCache
	logger     *logrus.Logger

	embeddingBreaker  *gobreaker.CircuitBreaker
	generativeBreaker *gobreaker.CircuitBreaker
}

// NewResilientBackendClient builds the resilient client. cache may be nil to
// disable embedding caching entirely.
func NewResilientBackendClient(
	embeddingConfig domain.EmbeddingConfig,
	generativeConfig domain.GenerativeConfig,
	cache *EmbeddingCache,
	logger *logrus.Logger,
) *ResilientBackendClient {
	onStateChange := func(name string, from gobreaker.State, to gobreaker.State) {
		logger.WithFields(logrus.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	}

	embeddingBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Embedding",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: onStateChange,
	})

	generativeBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Generative",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 2 && failureRatio >= 0.5
		},
		OnStateChange: onStateChange,
	})

	return &ResilientBackendClient{
		embedding:         NewEmbeddingClient(embeddingConfig),
		generative:        NewGenerativeClient(generativeConfig),
		cache:             cache,
		logger:            logger,
		embeddingBreaker:  embeddingBreaker,
		generativeBreaker: generativeBreaker,
	}
}

// Embed computes embeddings, serving cached vectors where possible and
// batching only the misses through the circuit breaker.
func (r *ResilientBackendClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if r.cache != nil {
			if vec, ok := r.cache.Get(ctx, r.cache.Key(r.embedding.Model(), text)); ok {
				vectors[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	result, err := r.embeddingBreaker.Execute(func() (interface{}, error) {
		return r.embedding.Embed(ctx, missTexts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("embedding circuit open: %w", domain.ErrEmbeddingUnavailable)
		}
		return nil, err
	}

	fresh := result.([][]float32)
	for j, idx := range missIdx {
		vectors[idx] = fresh[j]
		if r.cache != nil {
			r.cache.Set(ctx, r.cache.Key(r.embedding.Model(), missTexts[j]), fresh[j])
		}
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimensionality.
func (r *ResilientBackendClient) Dimensions() int {
	return r.embedding.Dimensions()
}

// Submit forwards a prompt to the generative backend through its breaker.
func (r *ResilientBackendClient) Submit(ctx context.Context, prompt string) (string, error) {
	result, err := r.generativeBreaker.Execute(func() (interface{}, error) {
		return r.generative.Submit(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("generative circuit open: %w", domain.ErrGenerativeBackendUnavailable)
		}
		return "", err
	}
	return result.(string), nil
}

// BreakerStates reports circuit breaker states for health checks.
func (r *ResilientBackendClient) BreakerStates() map[string]gobreaker.State {
	return map[string]gobreaker.State{
		"embedding":  r.embeddingBreaker.State(),
		"generative": r.generativeBreaker.State(),
	}
}

var (
	_ domain.Embedder          = (*ResilientBackendClient)(nil)
	_ domain.GenerativeBackend = (*ResilientBackendClient)(nil)
)
