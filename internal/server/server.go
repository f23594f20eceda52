// Package server exposes the search engine over HTTP. It serves the
// search endpoints plus health, embedding diagnostics, and prometheus
// scrapes, with request-id and access-log middleware around everything.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/search"
	"github.com/backlogic/storysearch/internal/telemetry"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address. ":0" picks a free port.
	Addr string

	// ReadTimeout bounds reading a request.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response. Must exceed the rerank
	// timeout or reranked responses get cut off mid-flight.
	WriteTimeout time.Duration

	// ShutdownTimeout is the drain window for in-flight requests after
	// Run's context is cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// withDefaults replaces zero fields with the server defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// Server serves the search API. It does not own its collaborators:
// closing the engine and embedder is the caller's job, after Run
// returns.
type Server struct {
	engine   search.SearchEngine
	embedder embed.Embedder
	metrics  *telemetry.SearchMetrics
	logger   *slog.Logger
	config   Config

	mu         sync.Mutex
	listenAddr string
}

// Option configures the server.
type Option func(*Server)

// WithEmbedder wires the embedder used by the health probe and the
// embedding diagnostics endpoint. Optional; without one the diagnostics
// endpoint reports unavailable.
func WithEmbedder(em embed.Embedder) Option {
	return func(s *Server) {
		s.embedder = em
	}
}

// WithMetrics wires prometheus collectors. When set, every route is
// instrumented and /metrics serves the registry.
func WithMetrics(m *telemetry.SearchMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithConfig overrides the server defaults. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// NewServer creates the HTTP server around a search engine.
func NewServer(engine search.SearchEngine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: search engine is required", ErrNilDependency)
	}

	s := &Server{
		engine: engine,
		logger: slog.Default(),
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.config = s.config.withDefaults()

	return s, nil
}

// ListenAddr returns the bound address once Run is listening, or the
// empty string before that. Useful when Addr is ":0".
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Run listens on the configured address and serves until ctx is
// cancelled, then drains in-flight requests within the shutdown
// timeout. Callers wire ctx to SIGINT/SIGTERM via signal.NotifyContext.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server draining",
		slog.Duration("timeout", s.config.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
