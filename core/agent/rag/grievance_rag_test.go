package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grievance_server/pkg/resilience"
)

type fakeClient struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
	short bool
	delay time.Duration
}

func (f *fakeClient) Embedding(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeClient) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.short {
		return [][]float32{{1}}, nil
	}
	vs := make([][]float32, len(texts))
	for i, t := range texts {
		vs[i] = []float32{float32(len(t)), 1}
	}
	return vs, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func (m *mapCache) Get(_ context.Context, key string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapCache) Set(_ context.Context, key string, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func TestEmbedderBatch(t *testing.T) {
	client := &fakeClient{}
	e := NewEmbedder(client, EmbedderOptions{})

	vs, err := e.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 || vs[0][0] != 2 || vs[1][0] != 4 {
		t.Errorf("unexpected vectors %v", vs)
	}

	vs, err = e.EmbedBatch(context.Background(), nil)
	if err != nil || vs != nil {
		t.Errorf("empty batch: got %v, %v", vs, err)
	}
	if client.callCount() != 1 {
		t.Errorf("expected 1 backend call, got %d", client.callCount())
	}
}

func TestEmbedderRejectsShortResponse(t *testing.T) {
	e := NewEmbedder(&fakeClient{short: true}, EmbedderOptions{})
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestEmbedderTimeout(t *testing.T) {
	e := NewEmbedder(&fakeClient{delay: time.Second}, EmbedderOptions{Timeout: 10 * time.Millisecond})
	_, err := e.Embed(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEmbedderBreakerOpens(t *testing.T) {
	cfg := resilience.DefaultBreakerConfig("test-embeddings")
	cfg.ConsecutiveFails = 1
	client := &fakeClient{err: errors.New("backend down")}
	e := NewEmbedder(client, EmbedderOptions{Breaker: resilience.NewBreaker(cfg)})

	for i := 0; i < 2; i++ {
		if _, err := e.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := e.Embed(context.Background(), "x")
	if !resilience.IsOpen(err) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if client.callCount() != 2 {
		t.Errorf("open breaker should not reach the backend; calls = %d", client.callCount())
	}
}

func TestEmbedderProbe(t *testing.T) {
	if err := NewEmbedder(&fakeClient{}, EmbedderOptions{}).Probe(context.Background()); err != nil {
		t.Errorf("probe failed: %v", err)
	}
	down := NewEmbedder(&fakeClient{err: errors.New("no key")}, EmbedderOptions{})
	if err := down.Probe(context.Background()); err == nil {
		t.Error("expected probe failure")
	}
}

func TestEmbeddingCacheEvictsOldest(t *testing.T) {
	c := NewEmbeddingCache(&EmbeddingCacheConfig{MaxSize: 2, TTL: time.Hour})
	defer c.Close()

	c.Set("a", []float32{1})
	time.Sleep(time.Millisecond)
	c.Set("b", []float32{2})
	time.Sleep(time.Millisecond)
	c.Set("c", []float32{3})

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, ok := c.Get("c"); !ok || v[0] != 3 {
		t.Error("newest entry missing")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestEmbeddingCacheTTL(t *testing.T) {
	c := NewEmbeddingCache(&EmbeddingCacheConfig{MaxSize: 10, TTL: time.Millisecond})
	defer c.Close()

	c.Set("k", []float32{1})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	hits, misses, _ := c.Stats()
	if hits != 0 || misses != 1 {
		t.Errorf("stats = %d/%d", hits, misses)
	}
}

func TestCacheKeyScopedByModel(t *testing.T) {
	if CacheKey("m1", "text") == CacheKey("m2", "text") {
		t.Error("keys for different models must differ")
	}
	if CacheKey("m1", "text") != CacheKey("m1", "text") {
		t.Error("key must be stable")
	}
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	client := &fakeClient{}
	inner := NewEmbedder(client, EmbedderOptions{})
	shared := &mapCache{data: map[string][]float32{}}
	local := NewEmbeddingCache(nil)
	defer local.Close()
	ce := NewCachedEmbedder(inner, "m", local, shared)
	ctx := context.Background()

	if _, err := ce.EmbedBatch(ctx, []string{"one", "three"}); err != nil {
		t.Fatal(err)
	}
	vs, err := ce.EmbedBatch(ctx, []string{"three", "fifteen", "one"})
	if err != nil {
		t.Fatal(err)
	}
	if vs[0][0] != 5 || vs[1][0] != 7 || vs[2][0] != 3 {
		t.Errorf("results out of order: %v", vs)
	}
	if client.callCount() != 2 {
		t.Errorf("expected 2 backend calls, got %d", client.callCount())
	}
	if got := client.texts[len(client.texts)-1]; got != "fifteen" || len(client.texts) != 3 {
		t.Errorf("second call should embed only the miss; texts = %v", client.texts)
	}
	if len(shared.data) != 3 {
		t.Errorf("shared tier should hold 3 vectors, has %d", len(shared.data))
	}
}

func TestCachedEmbedderReadsSharedTier(t *testing.T) {
	client := &fakeClient{}
	shared := &mapCache{data: map[string][]float32{CacheKey("m", "warm"): {42}}}
	local := NewEmbeddingCache(nil)
	defer local.Close()
	ce := NewCachedEmbedder(NewEmbedder(client, EmbedderOptions{}), "m", local, shared)

	v, err := ce.Embed(context.Background(), "warm")
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 42 || client.callCount() != 0 {
		t.Errorf("expected shared hit, got %v with %d calls", v, client.callCount())
	}
	if _, ok := local.Get(CacheKey("m", "warm")); !ok {
		t.Error("shared hit should populate the local tier")
	}
}

func TestCachedEmbedderProbeBypassesCache(t *testing.T) {
	client := &fakeClient{}
	local := NewEmbeddingCache(nil)
	defer local.Close()
	ce := NewCachedEmbedder(NewEmbedder(client, EmbedderOptions{}), "m", local, nil)

	for i := 0; i < 2; i++ {
		if err := ce.Probe(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if client.callCount() != 2 {
		t.Errorf("each probe should reach the backend; calls = %d", client.callCount())
	}
}
