package embcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
)

type mockEncoder struct {
	result     domain.EncodeResult
	err        error
	textCalls  int
	imageCalls int
}

func (m *mockEncoder) EncodeText(_ context.Context, _ string) (domain.EncodeResult, error) {
	m.textCalls++
	return m.result, m.err
}

func (m *mockEncoder) EncodeImage(_ context.Context, _ string) (domain.EncodeResult, error) {
	m.imageCalls++
	return m.result, m.err
}

func (m *mockEncoder) Dimensions() int { return len(m.result.Embedding) }

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) (string, error)
	setFn func(ctx context.Context, key, value string, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) (string, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return "", db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newTestCachedEncoder(t *testing.T, inner *mockEncoder) (*CachedEncoder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, ms, "visualmem:", time.Hour, nil, zap.NewNop())
	return ce, ms
}

func TestEncodeText_CacheMiss(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEncoder(t, inner)
	ctx := context.Background()

	ms.getFn = func(_ context.Context, _ string) (string, error) {
		return "", db.ErrKeyNotFound
	}

	var setCalled bool
	ms.setFn = func(_ context.Context, _ string, _ string, ttl time.Duration) error {
		setCalled = true
		if ttl != time.Hour {
			t.Errorf("expected ttl of 1h, got %v", ttl)
		}
		return nil
	}

	result, err := ce.EncodeText(ctx, "terminal error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if !setCalled {
		t.Fatal("expected SET to be called for cache put")
	}
}

func TestEncodeText_CacheHit(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{
		Embedding: []float32{0.1, 0.2, 0.3},
	}}
	ce, ms := newTestCachedEncoder(t, inner)
	ctx := context.Background()

	cached := string(vectorToCacheBytes([]float32{0.4, 0.5, 0.6}))
	ms.getFn = func(_ context.Context, _ string) (string, error) {
		return cached, nil
	}

	result, err := ce.EncodeText(ctx, "terminal error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
	if inner.textCalls != 0 {
		t.Fatalf("expected no inner call on cache hit, got %d", inner.textCalls)
	}
}

func TestEncodeText_InnerError(t *testing.T) {
	inner := &mockEncoder{err: errors.New("provider down")}
	ce, ms := newTestCachedEncoder(t, inner)

	ms.getFn = func(_ context.Context, _ string) (string, error) {
		return "", db.ErrKeyNotFound
	}

	_, err := ce.EncodeText(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error from inner encoder")
	}
}

func TestEncodeText_CorruptCacheFallsThrough(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{Embedding: []float32{0.7}}}
	ce, ms := newTestCachedEncoder(t, inner)

	ms.getFn = func(_ context.Context, _ string) (string, error) {
		return "abc", nil // not a multiple of 4 bytes
	}

	result, err := ce.EncodeText(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Embedding[0] != 0.7 {
		t.Errorf("expected inner result on corrupt cache, got %v", result.Embedding)
	}
	if inner.textCalls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.textCalls)
	}
}

func TestEncodeImage_NeverCached(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{Embedding: []float32{0.2}}}
	ce, ms := newTestCachedEncoder(t, inner)

	var getCalled bool
	ms.getFn = func(_ context.Context, _ string) (string, error) {
		getCalled = true
		return "", db.ErrKeyNotFound
	}

	_, err := ce.EncodeImage(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if getCalled {
		t.Error("image encode must bypass the cache")
	}
	if inner.imageCalls != 1 {
		t.Errorf("expected 1 inner image call, got %d", inner.imageCalls)
	}
}

func TestBatchEncodeText_MixedHitMiss(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{
		Embedding:   []float32{0.5},
		TotalTokens: 4,
	}}
	ce, ms := newTestCachedEncoder(t, inner)
	ctx := context.Background()

	cached := string(vectorToCacheBytes([]float32{0.9}))
	hitKey := ce.cacheKey("cached query")
	ms.getFn = func(_ context.Context, key string) (string, error) {
		if key == hitKey {
			return cached, nil
		}
		return "", db.ErrKeyNotFound
	}

	puts := 0
	ms.setFn = func(_ context.Context, _, _ string, _ time.Duration) error {
		puts++
		return nil
	}

	res, err := ce.BatchEncodeText(ctx, []string{"cached query", "fresh query"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if res.Embeddings[0][0] != 0.9 {
		t.Errorf("expected cached vector first, got %v", res.Embeddings[0])
	}
	if res.Embeddings[1][0] != 0.5 {
		t.Errorf("expected fresh vector second, got %v", res.Embeddings[1])
	}
	// Inner encoder has no batch support, so the miss goes through the
	// per-text fallback exactly once.
	if inner.textCalls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.textCalls)
	}
	if puts != 1 {
		t.Errorf("expected 1 cache put, got %d", puts)
	}
	if res.TotalTokens != 4 {
		t.Errorf("expected 4 tokens, got %d", res.TotalTokens)
	}
}

func TestBatchEncodeText_AllCached(t *testing.T) {
	inner := &mockEncoder{result: domain.EncodeResult{Embedding: []float32{0.5}}}
	ce, ms := newTestCachedEncoder(t, inner)

	cached := string(vectorToCacheBytes([]float32{0.7}))
	ms.getFn = func(_ context.Context, _ string) (string, error) {
		return cached, nil
	}

	res, err := ce.BatchEncodeText(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.textCalls != 0 {
		t.Errorf("expected no inner calls, got %d", inner.textCalls)
	}
	if res.TotalTokens != 0 {
		t.Errorf("cache hits must consume no tokens, got %d", res.TotalTokens)
	}
}
