package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/domain"
)

func TestResilientClient_GenerativeBreakerOpens(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := NewResilientBackendClient(
		domain.EmbeddingConfig{BaseURL: server.URL},
		domain.GenerativeConfig{BaseURL: server.URL},
		nil, logger,
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.Submit(ctx, "prompt")
		require.ErrorIs(t, err, domain.ErrGenerativeBackendUnavailable)
	}

	// breaker is now open, the backend stops being called
	callsBefore := calls
	_, err := client.Submit(ctx, "prompt")
	require.ErrorIs(t, err, domain.ErrGenerativeBackendUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, callsBefore, calls)
}

func TestResilientClient_EmbedUsesCache(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{"index": i, "embedding": []float32{float32(i), 1}}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cache, err := NewEmbeddingCache(domain.CacheConfig{MemorySize: 16}, logger)
	require.NoError(t, err)

	client := NewResilientBackendClient(
		domain.EmbeddingConfig{BaseURL: server.URL, Model: "test-model", Dimensions: 2},
		domain.GenerativeConfig{BaseURL: server.URL},
		cache, logger,
	)

	ctx := context.Background()
	first, err := client.Embed(ctx, []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, calls)

	// identical texts are served entirely from cache
	second, err := client.Embed(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestResilientClient_BreakerStates(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := NewResilientBackendClient(
		domain.EmbeddingConfig{BaseURL: "http://unused"},
		domain.GenerativeConfig{BaseURL: "http://unused"},
		nil, logger,
	)

	states := client.BreakerStates()
	require.Len(t, states, 2)
	assert.Contains(t, states, "embedding")
	assert.Contains(t, states, "generative")
}
