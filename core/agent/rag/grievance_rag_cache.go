package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"grievance_server/core/port/out"
	"grievance_server/pkg/metrics"
)

// EmbeddingCache is the in-process tier of the embedding cache.
type EmbeddingCache struct {
	cache   map[string]*cachedEmbedding
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once

	hits   int64
	misses int64
}

type cachedEmbedding struct {
	embedding []float32
	createdAt time.Time
}

type EmbeddingCacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// DefaultEmbeddingCacheConfig returns sensible defaults. Embeddings of a
// fixed model never change, so entries live for a day.
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		MaxSize: 10000,
		TTL:     24 * time.Hour,
	}
}

// NewEmbeddingCache starts a cache with an hourly expiry sweep. Call Close to
// stop the sweep.
func NewEmbeddingCache(config *EmbeddingCacheConfig) *EmbeddingCache {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultEmbeddingCacheConfig().MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultEmbeddingCacheConfig().TTL
	}

	cache := &EmbeddingCache{
		cache:   make(map[string]*cachedEmbedding),
		maxSize: config.MaxSize,
		ttl:     config.TTL,
		stop:    make(chan struct{}),
	}
	go cache.cleanupLoop()
	return cache
}

func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.cache, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.embedding, true
}

func (c *EmbeddingCache) Set(key string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; !exists && len(c.cache) >= c.maxSize {
		c.evictOldest()
	}
	c.cache[key] = &cachedEmbedding{
		embedding: embedding,
		createdAt: time.Now(),
	}
}

func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Stats returns cache statistics.
func (c *EmbeddingCache) Stats() (hits, misses int64, hitRate float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits = c.hits
	misses = c.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

func (c *EmbeddingCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *EmbeddingCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.cache {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}

func (c *EmbeddingCache) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *EmbeddingCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.cache {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.cache, key)
		}
	}
}

// CacheKey scopes a text hash by model so a model switch never serves stale
// vectors.
func CacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(hash[:16])
}

// CachedEmbedder serves embeddings from the in-process cache, then the shared
// cache (when configured), and only then from the backend.
type CachedEmbedder struct {
	inner  out.Embedder
	model  string
	local  *EmbeddingCache
	shared out.EmbeddingCache
}

// NewCachedEmbedder wraps inner. shared may be nil.
func NewCachedEmbedder(inner out.Embedder, model string, local *EmbeddingCache, shared out.EmbeddingCache) *CachedEmbedder {
	if local == nil {
		local = NewEmbeddingCache(nil)
	}
	return &CachedEmbedder{
		inner:  inner,
		model:  model,
		local:  local,
		shared: shared,
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = CacheKey(e.model, text)
		if v, ok := e.lookup(ctx, keys[i]); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		i := missIdx[j]
		results[i] = v
		e.store(ctx, keys[i], v)
	}
	return results, nil
}

// Probe bypasses both cache tiers.
func (e *CachedEmbedder) Probe(ctx context.Context) error {
	if p, ok := e.inner.(out.ProbingEmbedder); ok {
		return p.Probe(ctx)
	}
	_, err := e.inner.Embed(ctx, probeText)
	return err
}

// Stats exposes the in-process tier's counters.
func (e *CachedEmbedder) Stats() (hits, misses int64, hitRate float64) {
	return e.local.Stats()
}

func (e *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := e.local.Get(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("local", "hit").Inc()
		return v, true
	}
	metrics.EmbeddingCacheHits.WithLabelValues("local", "miss").Inc()

	if e.shared == nil {
		return nil, false
	}
	if v, ok := e.shared.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("shared", "hit").Inc()
		e.local.Set(key, v)
		return v, true
	}
	metrics.EmbeddingCacheHits.WithLabelValues("shared", "miss").Inc()
	return nil, false
}

func (e *CachedEmbedder) store(ctx context.Context, key string, v []float32) {
	e.local.Set(key, v)
	if e.shared != nil {
		// A shared-tier write failure only costs a future recompute.
		_ = e.shared.Set(ctx, key, v)
	}
}
