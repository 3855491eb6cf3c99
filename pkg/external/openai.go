// Package external contains clients for the external model backends (an
// OpenAI-compatible embedding service and generative chat service) together
// with the caching and resilience layers wrapped around them.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thyroid-rag-server/internal/domain"
)

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewEmbeddingClient creates a new embedding client from configuration.
func NewEmbeddingClient(config domain.EmbeddingConfig) *EmbeddingClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := config.RateLimit
	if rps <= 0 {
		rps = 10
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		model:      config.Model,
		dimensions: config.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(rps), rps),
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes embeddings for a batch of texts. Transport or backend
// failures surface as domain.ErrEmbeddingUnavailable.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrEmbeddingUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding backend returned %d: %s: %w",
			resp.StatusCode, string(snippet), domain.ErrEmbeddingUnavailable)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %v: %w", err, domain.ErrEmbeddingUnavailable)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d inputs: %w",
			len(parsed.Data), len(texts), domain.ErrEmbeddingUnavailable)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding backend returned out-of-range index %d: %w",
				item.Index, domain.ErrEmbeddingUnavailable)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimensionality.
func (c *EmbeddingClient) Dimensions() int {
	return c.dimensions
}

// Model returns the embedding model identifier, used for cache keying.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// GenerativeClient calls an OpenAI-compatible chat completions endpoint.
type GenerativeClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	rateLimit   *rate.Limiter
}

// NewGenerativeClient creates a new generative backend client from configuration.
func NewGenerativeClient(config domain.GenerativeConfig) *GenerativeClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	rps := config.RateLimit
	if rps <= 0 {
		rps = 5
	}
	return &GenerativeClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimit:   rate.NewLimiter(rate.Limit(rps), rps),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	ResponseFmt *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a clinical decision-support assistant for thyroid function interpretation. " +
	"Answer strictly as JSON matching the requested schema, citing only the provided context chunks."

// Submit sends a prompt and returns the raw model text. Deadline expiry maps
// to domain.ErrGenerativeBackendTimeout, other failures to
// domain.ErrGenerativeBackendUnavailable; parsing is the caller's concern.
func (c *GenerativeClient) Submit(ctx context.Context, prompt string) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFmt: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("chat request timed out: %w", domain.ErrGenerativeBackendTimeout)
		}
		return "", fmt.Errorf("chat request failed: %v: %w", err, domain.ErrGenerativeBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generative backend returned %d: %s: %w",
			resp.StatusCode, string(snippet), domain.ErrGenerativeBackendUnavailable)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding chat response: %v: %w", err, domain.ErrGenerativeBackendUnavailable)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generative backend returned no choices: %w", domain.ErrGenerativeBackendUnavailable)
	}

	return parsed.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
