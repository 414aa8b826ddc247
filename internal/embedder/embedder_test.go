package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache := NewCache(2)

	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}
	cache.Set("a", emb)

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)

	// Mutating the returned copy does not affect the cached value
	got.Vector[0] = 99
	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0])

	cache.Set("b", emb)
	cache.Set("c", emb)
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok, "least recently used entry should be evicted")

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestComputeHash_KindMatters(t *testing.T) {
	q := ComputeHash(KindQuery, "hello")
	p := ComputeHash(KindPassage, "hello")
	assert.NotEqual(t, q, p)
	assert.Equal(t, p, ComputeHash("", "hello"), "empty kind is a passage")
	assert.Len(t, q, 64)
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", ""}}), ErrInvalidInput)
	assert.NoError(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a"}}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestGenerateBatchCached(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(10)
	var calls [][]string

	call := func(_ context.Context, texts []string, _ InputKind) ([]*Embedding, error) {
		calls = append(calls, append([]string(nil), texts...))
		out := make([]*Embedding, len(texts))
		for i, text := range texts {
			out[i] = &Embedding{Vector: []float32{float32(len(text))}, Dimension: 1}
		}
		return out, nil
	}

	resp, err := generateBatchCached(ctx, cache, "test", "m", BatchEmbeddingRequest{Texts: []string{"a", "bb"}}, call)
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, float32(2), resp.Embeddings[1].Vector[0])

	// Only the uncached text reaches the provider, order is preserved
	resp, err = generateBatchCached(ctx, cache, "test", "m", BatchEmbeddingRequest{Texts: []string{"ccc", "a"}}, call)
	require.NoError(t, err)
	assert.Equal(t, float32(3), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(1), resp.Embeddings[1].Vector[0])
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"ccc"}, calls[1])

	// A query with the same text is a different cache entry
	_, err = generateBatchCached(ctx, cache, "test", "m", BatchEmbeddingRequest{Texts: []string{"a"}, Kind: KindQuery}, call)
	require.NoError(t, err)
	assert.Len(t, calls, 3)
}

func TestGenerateBatchCached_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("too large", func(t *testing.T) {
		texts := make([]string, MaxBatchSize+1)
		for i := range texts {
			texts[i] = "x"
		}
		_, err := generateBatchCached(ctx, nil, "test", "m", BatchEmbeddingRequest{Texts: texts}, nil)
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("count mismatch", func(t *testing.T) {
		call := func(context.Context, []string, InputKind) ([]*Embedding, error) {
			return []*Embedding{}, nil
		}
		_, err := generateBatchCached(ctx, nil, "test", "m", BatchEmbeddingRequest{Texts: []string{"a"}}, call)
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("provider failure is retried then wrapped", func(t *testing.T) {
		attempts := 0
		call := func(context.Context, []string, InputKind) ([]*Embedding, error) {
			attempts++
			return nil, errors.New("boom")
		}
		_, err := generateBatchCached(ctx, nil, "test", "m", BatchEmbeddingRequest{Texts: []string{"a"}}, call)
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, MaxRetries, attempts)
	})
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}
	attempts := 0
	_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
		attempts++
		return 0, errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIdentity(t *testing.T) {
	local, err := NewLocalProvider(nil)
	require.NoError(t, err)
	assert.Equal(t, "local/feature-hash-v1@384", Identity(local))
}
