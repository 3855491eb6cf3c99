package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// EmbeddingCache is a two-tier cache for computed embeddings: a hot
// in-process LRU in front of a shared Redis tier. Identical texts embed once
// per model, not once per request. Redis failures degrade to a cache miss,
// never to a request failure.
type EmbeddingCache struct {
	memory     *lru.Cache[string, []float32]
	redis      *redis.Client
	defaultTTL time.Duration
	logger     *logrus.Logger
}

// NewEmbeddingCache creates the cache. Redis connectivity is verified up
// front; memorySize bounds the in-process tier.
func NewEmbeddingCache(config domain.CacheConfig, logger *logrus.Logger) (*EmbeddingCache, error) {
	memSize := config.MemorySize
	if memSize <= 0 {
		memSize = 1024
	}
	memory, err := lru.New[string, []float32](memSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	cache := &EmbeddingCache{
		memory:     memory,
		defaultTTL: config.DefaultTTL,
		logger:     logger,
	}
	if cache.defaultTTL == 0 {
		cache.defaultTTL = 24 * time.Hour
	}

	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		if config.PoolSize > 0 {
			opts.PoolSize = config.PoolSize
		}
		if config.PoolTimeout > 0 {
			opts.PoolTimeout = config.PoolTimeout
		}
		if config.MaxRetries > 0 {
			opts.MaxRetries = config.MaxRetries
		}

		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// Key derives the cache key for one text under one embedding model.
func (c *EmbeddingCache) Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "thyro:emb:" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for a key, checking memory before Redis.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := c.memory.Get(key); ok {
		return vec, true
	}
	if c.redis == nil {
		return nil, false
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Debug("Embedding cache read failed, treating as miss")
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		// corrupted entry: drop it
		c.redis.Del(ctx, key)
		return nil, false
	}

	c.memory.Add(key, vec)
	return vec, true
}

// Set stores a vector in both tiers.
func (c *EmbeddingCache) Set(ctx context.Context, key string, vec []float32) {
	c.memory.Add(key, vec)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.defaultTTL).Err(); err != nil {
		c.logger.WithError(err).Debug("Embedding cache write failed")
	}
}

// Ping verifies Redis connectivity; nil when only the memory tier is active.
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *EmbeddingCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
