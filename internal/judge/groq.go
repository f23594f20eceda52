// Package judge scores search results with an external LLM. The reranker
// submits the head of a result set to an OpenAI-compatible chat-completions
// endpoint and parses relevance scores from the reply. A judge failure is
// never a search failure: callers fall back to the unreranked order.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/backlogic/storysearch/internal/hybrid"
	"github.com/backlogic/storysearch/pkg/version"
)

// Judge configuration defaults. The rate and breaker numbers are sized for
// the Groq free tier, which allows 30 requests per minute on the large
// llama models.
const (
	DefaultAPIBase = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 20 * time.Second

	DefaultRequestsPerMinute = 30
	DefaultBurst             = 4
	DefaultBreakerCooldown   = 30 * time.Second
)

// Config holds configuration for the Groq reranker.
type Config struct {
	// APIBase is the OpenAI-compatible endpoint serving chat completions
	// (default: the Groq cloud endpoint).
	APIBase string

	// APIKey authorizes requests. Empty disables the judge: Available
	// reports false and searches run unreranked.
	APIKey string

	// Model is the chat model asked to score candidates
	// (default: llama-3.3-70b-versatile).
	Model string

	// Timeout bounds one scoring call end to end (default: 20s).
	Timeout time.Duration

	// RequestsPerMinute caps the call rate to stay inside the provider
	// quota (default: 30). Zero uses the default.
	RequestsPerMinute int

	// Burst is the rate limiter burst capacity (default: 4).
	Burst int

	// BreakerCooldown is how long the circuit stays open after tripping
	// before a probe request is allowed through (default: 30s).
	BreakerCooldown time.Duration
}

// DefaultConfig returns the default judge configuration.
func DefaultConfig() Config {
	return Config{
		APIBase:           DefaultAPIBase,
		Model:             DefaultModel,
		Timeout:           DefaultTimeout,
		RequestsPerMinute: DefaultRequestsPerMinute,
		Burst:             DefaultBurst,
		BreakerCooldown:   DefaultBreakerCooldown,
	}
}

// GroqReranker scores documents through a chat-completions endpoint. Calls
// are rate limited to respect the provider quota and wrapped in a circuit
// breaker so a failing judge stops being called until it recovers.
type GroqReranker struct {
	mu       sync.RWMutex
	config   Config
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]hybrid.RerankResult]
	closed   bool
}

// Verify interface implementation at compile time
var _ hybrid.Reranker = (*GroqReranker)(nil)

// New creates a Groq reranker. A missing API key is not an error: the
// reranker constructs fine and reports unavailable until a key is set, so
// the pipeline degrades instead of failing at startup.
func New(cfg Config) *GroqReranker {
	// Apply defaults
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}

	settings := gobreaker.Settings{
		Name:        "judge",
		MaxRequests: 1, // single probe request while half-open
		Interval:    time.Minute,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// A caller that gave up is not a judge failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("judge_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &GroqReranker{
		config:   cfg,
		endpoint: strings.TrimRight(cfg.APIBase, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[[]hybrid.RerankResult](settings),
	}
}

// Rerank scores the documents against the query. The returned scores are
// sparse: an index the judge skipped or hallucinated out of range is simply
// absent, and the caller keeps that document's original position.
func (r *GroqReranker) Rerank(ctx context.Context, query string, documents []string) ([]hybrid.RerankResult, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	apiKey := r.config.APIKey
	r.mu.RUnlock()

	if len(documents) == 0 {
		return []hybrid.RerankResult{}, nil
	}
	if apiKey == "" {
		return nil, fmt.Errorf("judge API key not configured")
	}

	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	// Wait returns immediately when the required delay cannot fit inside
	// the deadline, so an exhausted quota degrades instead of stalling.
	if err := r.limiter.Wait(callCtx); err != nil {
		return nil, fmt.Errorf("judge rate limit: %w", err)
	}

	results, err := r.breaker.Execute(func() ([]hybrid.RerankResult, error) {
		return r.scoreOnce(callCtx, query, documents)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("judge circuit open: %w", err)
		}
		return nil, err
	}

	slog.Debug("judge_rerank_complete",
		slog.Int("documents", len(documents)),
		slog.Int("scored", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	return results, nil
}

// chatRequest is the JSON request to the chat-completions endpoint.
// Temperature is always sent, pinned to zero: scoring must be deterministic.
type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse carries the only part of the completion we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// scoreOnce performs a single scoring round trip.
func (r *GroqReranker) scoreOnce(ctx context.Context, query string, documents []string) ([]hybrid.RerankResult, error) {
	reqBody := chatRequest{
		Model:       r.config.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(query, documents)},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("judge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode judge response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("judge response has no choices")
	}

	return parseScores(completion.Choices[0].Message.Content, len(documents))
}

// Available reports whether the judge can serve requests: a key is
// configured, Close has not been called, and the circuit is not open. No
// network probe is made; every judge call costs quota.
func (r *GroqReranker) Available(_ context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.config.APIKey == "" {
		return false
	}
	return r.breaker.State() != gobreaker.StateOpen
}

// Close releases resources. Safe to call multiple times.
func (r *GroqReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	return nil
}
