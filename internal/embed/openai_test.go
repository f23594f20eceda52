package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/backlogic/storysearch/internal/errors"
)

// embeddingRequest mirrors the OpenAI embeddings request body.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// fakeEmbeddingServer implements POST {base}/embeddings and GET {base}/models.
// Each returned vector encodes the input's batch position in element 0 so
// tests can verify ordering.
type fakeEmbeddingServer struct {
	server       *httptest.Server
	requests     atomic.Int64
	failWith     atomic.Int64 // status code to return, 0 = success
	failCount    atomic.Int64 // how many requests fail before succeeding
	lastAuth     atomic.Value // string
	lastModel    atomic.Value // string
	mu           sync.Mutex
	batchSizes   []int
	healthStatus int
}

func newFakeEmbeddingServer(t *testing.T) *fakeEmbeddingServer {
	t.Helper()
	f := &fakeEmbeddingServer{healthStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(f.healthStatus)
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))

		if code := f.failWith.Load(); code != 0 {
			if f.failCount.Load() == 0 || f.requests.Load() <= f.failCount.Load() {
				w.WriteHeader(int(code))
				_, _ = w.Write([]byte(`{"error":{"message":"simulated failure"}}`))
				return
			}
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastModel.Store(req.Model)
		f.mu.Lock()
		f.batchSizes = append(f.batchSizes, len(req.Input))
		f.mu.Unlock()

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 0.5, 0.25, 0.125},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 0, "total_tokens": 0},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeEmbeddingServer) embedder(t *testing.T) *OpenAIEmbedder {
	t.Helper()
	cfg := DefaultOpenAIConfig()
	cfg.APIBase = f.server.URL + "/v1"
	cfg.APIKey = "sk-test"
	cfg.Dimensions = 4
	embedder, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = embedder.Close() })
	return embedder
}

// fastRetry makes rate-limit retries immediate in tests.
func fastRetry() apperrors.RetryConfig {
	return apperrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

// ============================================================================
// Basic Embedding
// ============================================================================

func TestOpenAIEmbedder_Embed_ReturnsVector(t *testing.T) {
	// Given: a fake embeddings API
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)

	// When: I embed a story query
	vec, err := embedder.Embed(context.Background(), "password reset")

	// Then: the API's vector is returned
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 0.25, 0.125}, vec)
	assert.Equal(t, int64(1), fake.requests.Load())

	// And: model name and bearer token reach the API
	assert.Equal(t, DefaultModel, fake.lastModel.Load())
	assert.Equal(t, "Bearer sk-test", fake.lastAuth.Load())
}

func TestOpenAIEmbedder_EmbedBatch_PreservesOrder(t *testing.T) {
	// Given: a fake embeddings API
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)

	texts := []string{"password reset", "checkout funnel", "invoice export"}

	// When: I batch embed
	vecs, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: one vector per text, in request order
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, vec := range vecs {
		assert.Equal(t, float32(i), vec[0], "vector %d should match its input position", i)
	}
}

func TestOpenAIEmbedder_EmbedBatch_Empty_NoRequest(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)

	vecs, err := embedder.EmbedBatch(context.Background(), []string{})

	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int64(0), fake.requests.Load(), "empty batch should not hit the API")
}

func TestOpenAIEmbedder_EmbedBatch_SplitsOversizedInput(t *testing.T) {
	// Given: an embedder with a batch size of 2
	fake := newFakeEmbeddingServer(t)
	cfg := DefaultOpenAIConfig()
	cfg.APIBase = fake.server.URL + "/v1"
	cfg.APIKey = "sk-test"
	cfg.Dimensions = 4
	cfg.BatchSize = 2
	embedder, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	// When: I embed five texts
	texts := []string{"password", "checkout", "invoice", "billing", "refund"}
	vecs, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: the client splits the input into three requests
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int64(3), fake.requests.Load())
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, size := range fake.batchSizes {
		assert.LessOrEqual(t, size, 2, "no request should exceed the batch size")
	}
}

// ============================================================================
// Rate Limiting
// ============================================================================

func TestOpenAIEmbedder_RateLimited_RetriesOnce(t *testing.T) {
	// Given: an API that rate-limits the first request
	fake := newFakeEmbeddingServer(t)
	fake.failWith.Store(http.StatusTooManyRequests)
	fake.failCount.Store(1)

	embedder := fake.embedder(t)
	embedder.retry = fastRetry()

	// When: I embed
	vec, err := embedder.Embed(context.Background(), "password reset")

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(2), fake.requests.Load(), "429 should trigger exactly one retry")
}

func TestOpenAIEmbedder_RateLimited_FailsAfterRetry(t *testing.T) {
	// Given: an API that always rate-limits
	fake := newFakeEmbeddingServer(t)
	fake.failWith.Store(http.StatusTooManyRequests)

	embedder := fake.embedder(t)
	embedder.retry = fastRetry()

	// When: I embed
	_, err := embedder.Embed(context.Background(), "password reset")

	// Then: the error surfaces after the single retry
	require.Error(t, err)
	assert.Equal(t, int64(2), fake.requests.Load(), "initial attempt plus one retry")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOpenAIEmbedder_ServerError_FailsFast(t *testing.T) {
	// Given: an API that returns 500
	fake := newFakeEmbeddingServer(t)
	fake.failWith.Store(http.StatusInternalServerError)

	embedder := fake.embedder(t)
	embedder.retry = fastRetry()

	// When: I embed
	_, err := embedder.Embed(context.Background(), "password reset")

	// Then: no retry happens for non-429 failures
	require.Error(t, err)
	assert.Equal(t, int64(1), fake.requests.Load(), "non-429 errors should not be retried")
	assert.Contains(t, err.Error(), "embedding request failed")
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"unrelated error", assert.AnError, false},
		{"429 in message", errStr("API returned unexpected status code: 429"), true},
		{"rate limit wording", errStr("Rate Limit exceeded, slow down"), true},
		{"server error", errStr("API returned unexpected status code: 500"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRateLimited(tt.err))
		})
	}
}

type errStr string

func (e errStr) Error() string { return string(e) }

// ============================================================================
// Availability
// ============================================================================

func TestOpenAIEmbedder_Available_True(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)

	assert.True(t, embedder.Available(context.Background()))
	assert.Equal(t, "Bearer sk-test", fake.lastAuth.Load(), "health check should authenticate")
}

func TestOpenAIEmbedder_Available_False_WhenEndpointErrors(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	fake.healthStatus = http.StatusServiceUnavailable
	embedder := fake.embedder(t)

	assert.False(t, embedder.Available(context.Background()))
}

func TestOpenAIEmbedder_Available_False_WhenUnreachable(t *testing.T) {
	cfg := DefaultOpenAIConfig()
	cfg.APIBase = "http://localhost:59999/v1"
	embedder, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.False(t, embedder.Available(context.Background()))
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestOpenAIEmbedder_Embed_AfterClose_ReturnsError(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)
	_ = embedder.Close()

	_, err := embedder.Embed(context.Background(), "password reset")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.Equal(t, int64(0), fake.requests.Load())
}

func TestOpenAIEmbedder_Available_False_AfterClose(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)
	_ = embedder.Close()

	assert.False(t, embedder.Available(context.Background()))
}

func TestOpenAIEmbedder_Close_IsIdempotent(t *testing.T) {
	fake := newFakeEmbeddingServer(t)
	embedder := fake.embedder(t)

	assert.NoError(t, embedder.Close())
	assert.NoError(t, embedder.Close())
}

// ============================================================================
// Configuration
// ============================================================================

func TestNewOpenAIEmbedder_RequiresAPIBase(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Model: "nomic-embed-text"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API base URL is required")
}

func TestNewOpenAIEmbedder_AppliesDefaults(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(OpenAIConfig{APIBase: "http://localhost:11434/v1"})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, DefaultModel, embedder.config.Model)
	assert.Equal(t, DefaultDimensions, embedder.config.Dimensions)
	assert.Equal(t, DefaultBatchSize, embedder.config.BatchSize)
	assert.Equal(t, DefaultTimeout, embedder.config.Timeout)
}

func TestNewOpenAIEmbedder_ClampsBatchSize(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(OpenAIConfig{
		APIBase:   "http://localhost:11434/v1",
		BatchSize: 100000,
	})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, MaxBatchSize, embedder.config.BatchSize)
}

func TestOpenAIEmbedder_Accessors(t *testing.T) {
	cfg := DefaultOpenAIConfig()
	cfg.APIBase = "http://localhost:11434/v1"
	cfg.Model = "mxbai-embed-large"
	cfg.Dimensions = 1024
	embedder, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, "mxbai-embed-large", embedder.ModelName())
	assert.Equal(t, 1024, embedder.Dimensions())
}

func TestOpenAIEmbedder_ImplementsEmbedderInterface(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(OpenAIConfig{APIBase: "http://localhost:11434/v1"})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	var _ Embedder = embedder
}
