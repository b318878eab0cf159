// Package embcache memoizes query embeddings: a per-process LRU in front of an
// optional shared Redis tier.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

const (
	DefaultSize = 1000
	DefaultTTL  = 24 * time.Hour

	keyPrefix = "hybrid_search:emb_cache:"
)

// ErrMiss is returned by a Store that does not hold the key.
var ErrMiss = errors.New("embedding cache miss")

// Store is the shared tier. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Config struct {
	Size  int
	TTL   time.Duration
	Model string
}

// CachedEmbedder wraps a ports.Embedder. Hits report zero token usage since
// no model call was made.
type CachedEmbedder struct {
	inner  ports.Embedder
	local  *expirable.LRU[string, []float32]
	shared Store
	model  string
	ttl    time.Duration
	hits   *prometheus.CounterVec
	logger *slog.Logger
}

// New builds the decorator. shared and hits may be nil.
func New(inner ports.Embedder, shared Store, cfg Config, hits *prometheus.CounterVec, logger *slog.Logger) *CachedEmbedder {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:  inner,
		local:  expirable.NewLRU[string, []float32](cfg.Size, nil, cfg.TTL),
		shared: shared,
		model:  cfg.Model,
		ttl:    cfg.TTL,
		hits:   hits,
		logger: logger,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	key := c.cacheKey(text)

	if vec, ok := c.local.Get(key); ok {
		c.count("memory_hit")
		return domain.Embedding{Vector: vec, Model: c.model}, nil
	}

	if vec, ok := c.getShared(ctx, key); ok {
		c.count("redis_hit")
		c.local.Add(key, vec)
		return domain.Embedding{Vector: vec, Model: c.model}, nil
	}

	c.count("miss")
	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.Embedding{}, err
	}

	c.local.Add(key, emb.Vector)
	c.putShared(ctx, key, emb.Vector)
	return emb, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) count(result string) {
	if c.hits != nil {
		c.hits.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) getShared(ctx context.Context, key string) ([]float32, bool) {
	if c.shared == nil {
		return nil, false
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("embedding_cache_read_failed", "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		c.logger.Warn("embedding_cache_corrupt", "error", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) putShared(ctx context.Context, key string, vec []float32) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.Warn("embedding_cache_write_failed", "error", err)
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached embedding: len=%d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
