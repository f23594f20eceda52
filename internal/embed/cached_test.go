package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how often the cache falls through to it.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	dims       int
	model      string
	vec        []float32
}

var _ Embedder = (*countingEmbedder)(nil)

func newCountingEmbedder(dims int) *countingEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}
	return &countingEmbedder{dims: dims, model: "mock-model", vec: vec}
}

func (m *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vec, nil
}

func (m *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                    { return m.dims }
func (m *countingEmbedder) ModelName() string                  { return m.model }
func (m *countingEmbedder) Available(ctx context.Context) bool { return true }
func (m *countingEmbedder) Close() error                       { return nil }

func newCached(t *testing.T, inner Embedder, size int) *CachedEmbedder {
	t.Helper()
	c := NewCachedEmbedder(inner, size)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCachedEmbedder_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("repeat text is served from cache", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 100)

		text := "Reset forgotten password via email link"
		first, err := cached.Embed(ctx, text)
		require.NoError(t, err)
		second, err := cached.Embed(ctx, text)
		require.NoError(t, err)

		assert.Equal(t, int64(1), inner.embedCalls.Load(), "inner should see the text once")
		assert.Equal(t, first, second)
	})

	t.Run("each distinct text reaches the inner embedder", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 100)

		for _, text := range []string{"password reset", "checkout funnel", "invoice export"} {
			_, err := cached.Embed(ctx, text)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(3), inner.embedCalls.Load())
	})

	t.Run("least recently used entry is evicted first", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 3)

		for _, text := range []string{"password reset", "checkout funnel", "invoice export", "billing alerts"} {
			_, _ = cached.Embed(ctx, text)
		}

		inner.embedCalls.Store(0)
		_, err := cached.Embed(ctx, "password reset")
		require.NoError(t, err)
		assert.Equal(t, int64(1), inner.embedCalls.Load(), "oldest entry should have been evicted")

		inner.embedCalls.Store(0)
		_, _ = cached.Embed(ctx, "invoice export")
		_, _ = cached.Embed(ctx, "billing alerts")
		assert.Equal(t, int64(0), inner.embedCalls.Load(), "recent entries should still be cached")
	})
}

func TestCachedEmbedder_EmbedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("batch results feed the single-text cache", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 100)

		_, err := cached.EmbedBatch(ctx, []string{"password reset", "checkout funnel", "invoice export"})
		require.NoError(t, err)

		_, err = cached.Embed(ctx, "password reset")
		require.NoError(t, err)
		assert.Equal(t, int64(0), inner.embedCalls.Load(), "Embed should hit the batch-filled cache")
	})

	t.Run("only misses are forwarded", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 100)

		_, err := cached.Embed(ctx, "password reset")
		require.NoError(t, err)

		results, err := cached.EmbedBatch(ctx, []string{"password reset", "checkout funnel"})
		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.Equal(t, int64(1), inner.batchCalls.Load())
	})

	t.Run("fully cached batch skips the inner embedder", func(t *testing.T) {
		inner := newCountingEmbedder(768)
		cached := newCached(t, inner, 100)

		texts := []string{"password reset", "checkout funnel"}
		_, err := cached.EmbedBatch(ctx, texts)
		require.NoError(t, err)

		_, err = cached.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		assert.Equal(t, int64(1), inner.batchCalls.Load(), "second batch should be answered entirely from cache")
	})
}

func TestCachedEmbedder_Stats(t *testing.T) {
	ctx := context.Background()
	inner := newCountingEmbedder(768)
	cached := newCached(t, inner, 100)

	assert.Zero(t, cached.Stats().HitRate(), "no lookups yet")

	_, err := cached.Embed(ctx, "password reset")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "password reset")
	require.NoError(t, err)
	_, err = cached.EmbedBatch(ctx, []string{"password reset", "checkout funnel"})
	require.NoError(t, err)

	st := cached.Stats()
	assert.Equal(t, int64(2), st.Hits, "one repeat Embed plus one warm batch entry")
	assert.Equal(t, int64(2), st.Misses, "first Embed plus the cold batch entry")
	assert.Equal(t, 2, st.Size)
	assert.InEpsilon(t, 0.5, st.HitRate(), 1e-9)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder(1024)
	inner.model = "custom-model-v2"
	cached := newCached(t, inner, 100)

	var _ Embedder = cached

	assert.Equal(t, 1024, cached.Dimensions())
	assert.Equal(t, "custom-model-v2", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())
}

func TestCachedEmbedder_SizeFallbacks(t *testing.T) {
	assert.Equal(t, 256, DefaultEmbeddingCacheSize,
		"default cache size should match the embedding.cache_size config default")

	t.Run("zero size falls back to the default", func(t *testing.T) {
		cached := newCached(t, newCountingEmbedder(768), 0)
		_, err := cached.Embed(context.Background(), "billing alerts")
		require.NoError(t, err)
	})

	t.Run("defaults constructor works out of the box", func(t *testing.T) {
		cached := NewCachedEmbedderWithDefaults(newCountingEmbedder(768))
		defer cached.Close()
		_, err := cached.Embed(context.Background(), "billing alerts")
		require.NoError(t, err)
	})
}

func TestCachedEmbedder_Close(t *testing.T) {
	cached := NewCachedEmbedder(newCountingEmbedder(768), 100)
	assert.NoError(t, cached.Close())
}

func TestCachedEmbedder_ConcurrentAccess(t *testing.T) {
	cached := newCached(t, newCountingEmbedder(768), 100)

	ctx := context.Background()
	texts := []string{"password", "checkout", "invoice", "billing", "refund"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = cached.Embed(ctx, texts[j%len(texts)])
			}
		}()
	}
	wg.Wait()
}
