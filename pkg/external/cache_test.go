package external

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyroid-rag-server/internal/domain"
)

func newMemoryCache(t *testing.T) *EmbeddingCache {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cache, err := NewEmbeddingCache(domain.CacheConfig{MemorySize: 8}, logger)
	require.NoError(t, err)
	return cache
}

func TestEmbeddingCache_KeyStability(t *testing.T) {
	cache := newMemoryCache(t)

	k1 := cache.Key("text-embedding-3-small", "elevated TSH")
	k2 := cache.Key("text-embedding-3-small", "elevated TSH")
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "thyro:emb:")

	// different model or text yields a different key
	assert.NotEqual(t, k1, cache.Key("text-embedding-3-large", "elevated TSH"))
	assert.NotEqual(t, k1, cache.Key("text-embedding-3-small", "normal TSH"))
}

func TestEmbeddingCache_MemoryTier(t *testing.T) {
	cache := newMemoryCache(t)
	ctx := context.Background()
	key := cache.Key("model", "text")

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	cache.Set(ctx, key, []float32{0.1, 0.2, 0.3})

	vec, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbeddingCache_Eviction(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cache, err := NewEmbeddingCache(domain.CacheConfig{MemorySize: 2}, logger)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Set(ctx, "a", []float32{1})
	cache.Set(ctx, "b", []float32{2})
	cache.Set(ctx, "c", []float32{3})

	// oldest entry evicted, no Redis tier to fall back to
	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "c")
	assert.True(t, ok)
}

func TestEmbeddingCache_NoRedis(t *testing.T) {
	cache := newMemoryCache(t)

	assert.NoError(t, cache.Ping(context.Background()))
	assert.NoError(t, cache.Close())
}
