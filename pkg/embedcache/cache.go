// Package embedcache caches embedding vectors in Redis. Embeddings are
// deterministic for a given model, so a cache keyed by the text's SHA-256
// never serves a stale vector. Cache failures fall through to the inner
// embedder and are never surfaced to callers.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Embedder is the wrapped embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is a read-through embedding cache.
type Cache struct {
	inner  Embedder
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Cache over inner. The prefix namespaces keys per model so a
// model change cannot serve vectors of the wrong dimension.
func New(inner Embedder, rdb redis.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{inner: inner, rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

// Embed returns the cached vector for text, or embeds and caches it.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec := decodeVector(raw); vec != nil {
			return vec, nil
		}
		c.logger.Warn("embedcache: discarding malformed entry", "key", key)
	case err != redis.Nil:
		c.logger.Warn("embedcache: get failed, bypassing cache", "err", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedcache: set failed", "err", err)
	}
	return vec, nil
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// encodeVector packs a vector as little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// decodeVector is the inverse of encodeVector. Returns nil for malformed
// input.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec
}
