package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	apperrors "github.com/backlogic/storysearch/internal/errors"
	"github.com/backlogic/storysearch/pkg/version"
)

// OpenAIConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// APIBase is the endpoint serving POST {base}/embeddings.
	APIBase string

	// APIKey is the bearer token. Empty is allowed for local services
	// that do not require authentication.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimensions is the expected embedding dimension.
	Dimensions int

	// BatchSize is the number of texts per request.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// DefaultOpenAIConfig returns the default configuration.
// APIBase must be set by the caller; there is no default endpoint.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      DefaultModel,
		Dimensions: DefaultDimensions,
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
	}
}

// OpenAIEmbedder generates embeddings via an OpenAI-compatible API.
// Any service speaking POST {base}/embeddings works: OpenAI itself,
// Ollama's compatibility endpoint, or a self-hosted embedding server.
type OpenAIEmbedder struct {
	mu       sync.RWMutex
	config   OpenAIConfig
	embedder embeddings.Embedder
	client   *http.Client
	retry    apperrors.RetryConfig
	closed   bool
}

// NewOpenAIEmbedder creates an embedder talking to an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("embedding API base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize < MinBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// "none" satisfies clients of local services that skip authentication.
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(cfg.APIBase, "/")),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OpenAIEmbedder{
		config:   cfg,
		embedder: embedder,
		client:   &http.Client{Timeout: cfg.Timeout},
		// Rate-limited requests get exactly one retry after a short pause.
		retry: apperrors.RetryConfig{
			MaxRetries:   1,
			InitialDelay: 1 * time.Second,
			MaxDelay:     1 * time.Second,
			Multiplier:   1.0,
		},
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
// The client splits oversized inputs into requests of BatchSize texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := e.embedWithRetry(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// embedWithRetry calls the embedding API, retrying once on rate limiting.
// All other failures abort immediately.
func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errEmbedderClosed
	}
	e.mu.RUnlock()

	return apperrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.embedder.EmbedDocuments(reqCtx, texts)
		if err != nil {
			if isRateLimited(err) {
				return nil, apperrors.New(apperrors.ErrCodeRateLimited,
					"embedding API rate limited", err)
			}
			// Non-retryable code aborts the retry loop on first failure.
			return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding request failed: %v", err), err)
		}
		return vecs, nil
	})
}

// isRateLimited reports whether an error looks like an HTTP 429 response.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks that the endpoint answers GET {base}/models.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := strings.TrimRight(e.config.APIBase, "/") + "/models"
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
