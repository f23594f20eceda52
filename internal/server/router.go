package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/backlogic/storysearch/internal/embed"
	apperrors "github.com/backlogic/storysearch/internal/errors"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/search"
	"github.com/backlogic/storysearch/internal/telemetry"
)

// healthProbeTimeout bounds the collaborator probes so a hung store
// cannot hang the health endpoint.
const healthProbeTimeout = 5 * time.Second

// embeddingTestDefault is embedded when the diagnostics endpoint gets
// no text parameter.
const embeddingTestDefault = "hello world"

// Handler builds the route table wrapped in the middleware chain.
// Recovery sits inside the access log so panics are logged with their
// 500 status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/search", http.HandlerFunc(s.handleSearch))
	s.route(mux, "/hybrid_search", http.HandlerFunc(s.handleHybridSearch))
	s.route(mux, "/health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "/embedding_test", http.HandlerFunc(s.handleEmbeddingTest))
	if s.metrics != nil {
		s.route(mux, "/metrics", s.metrics.Handler())
	}

	var h http.Handler = mux
	h = recoveryMiddleware(s.logger, h)
	h = accessLogMiddleware(s.logger, h)
	h = requestIDMiddleware(h)
	return h
}

// route registers a handler, instrumented when metrics are configured.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(pattern, h)
	}
	mux.Handle(pattern, h)
}

// handleHybridSearch serves POST /hybrid_search. The blend ratio can
// come from the body or, with higher precedence, the bm25_ratio query
// parameter.
func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	req, err := decodeSearchRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid json body")
		return
	}

	opts := search.SearchOptions{BM25Ratio: req.BM25Ratio}
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}
	if raw := r.URL.Query().Get("bm25_ratio"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, apperrors.ErrCodeInvalidParam,
				"bm25_ratio must be a number")
			return
		}
		opts.BM25Ratio = &ratio
	}

	resp, err := s.engine.HybridSearch(r.Context(), req.Query, opts)
	if err != nil {
		s.writeEngineError(w, r, "hybrid search error", err)
		return
	}

	s.observeSearch(telemetry.ModeHybrid, resp)
	writeJSON(w, http.StatusOK, hybridResponseFrom(resp))
}

// handleSearch serves POST /search, the compact vector-only endpoint.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	req, err := decodeSearchRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid json body")
		return
	}

	opts := search.SearchOptions{}
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}

	resp, err := s.engine.Search(r.Context(), req.Query, opts)
	if err != nil {
		s.writeEngineError(w, r, "internal search error", err)
		return
	}

	s.observeSearch(telemetry.ModeVector, resp)
	writeJSON(w, http.StatusOK, searchResponseFrom(resp))
}

// handleHealth probes the engine's stores. A dead store is unhealthy;
// an unavailable embedder only degrades, since search still answers
// from the lexical side.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	if _, err := s.engine.Stats(ctx); err != nil {
		requestID, _ := logging.RequestID(r.Context())
		s.logger.Error("health probe failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Detail: "story store unreachable",
		})
		return
	}

	status := "ok"
	if s.embedder != nil && !s.embedder.Available(ctx) {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status})
}

// handleEmbeddingTest embeds one phrase and reports the model,
// dimension count, and latency. Operators use it to verify the
// embedding backend without running a search.
func (s *Server) handleEmbeddingTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	if s.embedder == nil {
		writeJSON(w, http.StatusServiceUnavailable, embeddingTestResponse{
			Error: "no embedder configured",
		})
		return
	}

	text := r.URL.Query().Get("text")
	if text == "" {
		text = embeddingTestDefault
	}

	start := time.Now()
	vec, err := s.embedder.Embed(r.Context(), text)
	elapsed := time.Since(start)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, embeddingTestResponse{
			Model: s.embedder.ModelName(),
			Error: err.Error(),
		})
		return
	}

	resp := embeddingTestResponse{
		OK:       true,
		Model:    s.embedder.ModelName(),
		Length:   len(vec),
		TimingMS: durationMS(elapsed),
	}
	if cached, ok := s.embedder.(*embed.CachedEmbedder); ok {
		st := cached.Stats()
		resp.Cache = &embeddingCacheStats{
			Hits:    st.Hits,
			Misses:  st.Misses,
			HitRate: st.HitRate(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// observeSearch feeds the prometheus collectors after a successful
// search. Zero-duration stages did not run and are skipped.
func (s *Server) observeSearch(mode telemetry.QueryMode, resp *search.SearchResponse) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveSearch(mode, len(resp.Results), resp.Removed, resp.Degraded)
	for stage, d := range map[string]time.Duration{
		"normalize": resp.Timings.Normalize,
		"embed":     resp.Timings.Embed,
		"bm25":      resp.Timings.BM25,
		"vector":    resp.Timings.Vector,
		"merge":     resp.Timings.Merge,
		"dedup":     resp.Timings.Dedup,
		"rerank":    resp.Timings.Rerank,
		"total":     resp.Timings.Total,
	} {
		if d > 0 {
			s.metrics.ObserveStage(stage, d)
		}
	}
}

// writeEngineError logs the failure and writes the mapped status with
// the structured error code. Client errors echo the structured message;
// 5xx responses keep the generic public message.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, public string, err error) {
	status := statusForError(err)
	code := apperrors.GetCode(err)
	requestID, _ := logging.RequestID(r.Context())

	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("path", r.URL.Path),
		slog.String("code", code),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request rejected", attrs...)
	}

	message := public
	if status < http.StatusInternalServerError {
		var se *apperrors.SearchError
		if errors.As(err, &se) {
			message = se.Message
		}
	}
	writeError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
