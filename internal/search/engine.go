package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/backlogic/storysearch/internal/embed"
	apperrors "github.com/backlogic/storysearch/internal/errors"
	"github.com/backlogic/storysearch/internal/hybrid"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/store"
	"github.com/backlogic/storysearch/internal/telemetry"
	"github.com/backlogic/storysearch/internal/validation"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// minFetchDepth keeps the candidate pool wide enough for dedup and
// rerank even when the requested limit is small.
const minFetchDepth = 10

// Engine implements SearchEngine over a BM25 index, a vector store, and
// the story store. Retrieval sides run in parallel; results flow through
// the hybrid pipeline before being joined back to their stories.
type Engine struct {
	bm25     store.BM25Index
	vector   store.VectorStore
	stories  store.StoryStore
	embedder embed.Embedder
	reranker hybrid.Reranker

	pipeline *hybrid.Pipeline
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
	config   EngineConfig

	mu sync.RWMutex
}

// Ensure Engine implements SearchEngine interface.
var _ SearchEngine = (*Engine)(nil)

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithBM25Index sets the lexical index. Required.
func WithBM25Index(idx store.BM25Index) EngineOption {
	return func(e *Engine) {
		e.bm25 = idx
	}
}

// WithVectorStore sets the similarity index. Required.
func WithVectorStore(vs store.VectorStore) EngineOption {
	return func(e *Engine) {
		e.vector = vs
	}
}

// WithStoryStore sets the story store used for result enrichment. Required.
func WithStoryStore(ss store.StoryStore) EngineOption {
	return func(e *Engine) {
		e.stories = ss
	}
}

// WithEmbedder sets the query embedder. Required.
func WithEmbedder(em embed.Embedder) EngineOption {
	return func(e *Engine) {
		e.embedder = em
	}
}

// WithReranker sets the judge reranker. Optional; without one the
// pipeline keeps retrieval-order scores.
func WithReranker(r hybrid.Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets an optional query metrics collector. When set, query
// modes, latency, and zero-result queries are tracked. The engine does
// not own the collector; callers close it themselves, before the engine,
// so the final flush still has a live store underneath.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithConfig overrides the engine defaults. Zero fields keep their
// defaults.
func WithConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates a hybrid search engine. It returns an error if any
// required collaborator is missing.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		config: DefaultEngineConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if e.vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if e.stories == nil {
		return nil, fmt.Errorf("%w: story store is required", ErrNilDependency)
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if e.reranker == nil {
		e.reranker = &hybrid.NoopReranker{}
	}

	e.config = e.config.withDefaults()
	e.pipeline = hybrid.NewPipeline(
		hybrid.WithReranker(e.reranker),
		hybrid.WithLogger(e.logger),
	)

	return e, nil
}

// withDefaults replaces zero or out-of-range fields with the engine
// defaults so a partially filled config cannot disable retrieval.
func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = def.MaxLimit
	}
	if c.BM25Ratio < 0 || c.BM25Ratio > 1 {
		c.BM25Ratio = def.BM25Ratio
	}
	if c.FetchMultiplier <= 0 {
		c.FetchMultiplier = def.FetchMultiplier
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		c.DedupThreshold = def.DedupThreshold
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = def.RerankTopK
	}
	return c
}

// HybridSearch runs the full retrieval pipeline: normalize and validate
// the query, fetch BM25 and vector candidates in parallel, merge and
// dedup through the hybrid pipeline, rerank, then join results back to
// their stories. One retrieval side failing degrades to the other; both
// failing is an error.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	requestID := requestIDFrom(ctx)
	log := e.logger.With(slog.String("request_id", requestID))

	normalized := NormalizeQuery(query)
	if err := validation.ValidateQuery(normalized); err != nil {
		return nil, err
	}
	limit, err := validation.ValidateLimit(opts.Limit, e.config.DefaultLimit, e.config.MaxLimit)
	if err != nil {
		return nil, err
	}
	ratio := e.config.BM25Ratio
	if opts.BM25Ratio != nil {
		if err := validation.ValidateRatio(*opts.BM25Ratio); err != nil {
			return nil, err
		}
		ratio = *opts.BM25Ratio
	}

	// Both sides over-fetch the same depth; the pipeline applies the
	// ratio as a score weight during merge. A hard 0 or 1 skips the
	// zero-weighted side entirely.
	fetchDepth := limit * e.config.FetchMultiplier
	if fetchDepth < minFetchDepth {
		fetchDepth = minFetchDepth
	}
	fetchBM25, fetchVector := 0, 0
	if ratio > 0 {
		fetchBM25 = fetchDepth
	}
	if ratio < 1 {
		fetchVector = fetchDepth
	}

	log.Debug("hybrid search started",
		slog.String("query", logging.RedactQuery(query)),
		slog.Int("limit", limit),
		slog.Float64("bm25_ratio", ratio))

	// The query embedding is only needed for the vector side. An embed
	// failure degrades that side instead of failing the request.
	var (
		queryVec []float32
		embedDur time.Duration
	)
	var vecErr error
	if fetchVector > 0 {
		embedStart := time.Now()
		queryVec, vecErr = e.embedder.Embed(ctx, normalized)
		embedDur = time.Since(embedStart)
		if vecErr != nil {
			vecErr = fmt.Errorf("embed query: %w", vecErr)
		}
	}

	var (
		bm25Results []*store.BM25Result
		bm25Err     error
		bm25Dur     time.Duration
		vecResults  []*store.VectorResult
		vecDur      time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	if fetchBM25 > 0 {
		g.Go(func() error {
			t := time.Now()
			results, err := e.bm25.Search(gctx, normalized, fetchBM25)
			bm25Dur = time.Since(t)
			if err != nil {
				// Captured, not returned: the other side keeps running.
				bm25Err = fmt.Errorf("bm25 search: %w", err)
				return nil
			}
			bm25Results = results
			return nil
		})
	}
	if fetchVector > 0 && vecErr == nil {
		g.Go(func() error {
			t := time.Now()
			results, err := e.vector.Search(gctx, queryVec, fetchVector)
			vecDur = time.Since(t)
			if err != nil {
				vecErr = fmt.Errorf("vector search: %w", err)
				return nil
			}
			vecResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only context cancellation reaches the group error.
		return nil, err
	}

	switch {
	case bm25Err != nil && vecErr != nil:
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed,
			"both retrieval sides failed", errors.Join(bm25Err, vecErr))
	case bm25Err != nil && fetchVector == 0:
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed,
			"bm25 retrieval failed", bm25Err)
	case vecErr != nil && fetchBM25 == 0:
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed,
			"vector retrieval failed", vecErr)
	case bm25Err != nil:
		log.Warn("bm25 retrieval failed, continuing with vector results",
			slog.String("error", bm25Err.Error()))
	case vecErr != nil:
		log.Warn("vector retrieval failed, continuing with bm25 results",
			slog.String("error", vecErr.Error()))
	}

	logStage(log, "embed", len(queryVec), embedDur)
	logStage(log, "bm25", len(bm25Results), bm25Dur)
	logStage(log, "vector", len(vecResults), vecDur)

	// Candidates carry story text into the pipeline so dedup and the
	// judge see what the user would.
	byID, err := e.fetchStories(ctx, candidateIDs(bm25Results, vecResults))
	if err != nil {
		return nil, err
	}

	bm25Cands := make([]hybrid.Candidate, 0, len(bm25Results))
	for _, r := range bm25Results {
		story, ok := byID[r.DocID]
		if !ok {
			// Index entry without a story row: stale index, drop it.
			continue
		}
		bm25Cands = append(bm25Cands, hybrid.Candidate{
			ID:      r.DocID,
			Content: story.SearchText(),
			Score:   r.Score,
		})
	}
	vecCands := make([]hybrid.Candidate, 0, len(vecResults))
	for _, r := range vecResults {
		story, ok := byID[r.ID]
		if !ok {
			continue
		}
		vecCands = append(vecCands, hybrid.Candidate{
			ID:      r.ID,
			Content: story.SearchText(),
			Score:   float64(r.Score),
		})
	}

	out, err := e.pipeline.Run(ctx, hybrid.Input{
		Query:  normalized,
		BM25:   bm25Cands,
		Vector: vecCands,
	}, hybrid.Params{
		BM25Ratio:      ratio,
		Limit:          limit,
		DedupThreshold: e.config.DedupThreshold,
		RerankTopK:     e.config.RerankTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid pipeline: %w", err)
	}

	degraded := out.Rerank == hybrid.RerankDegraded
	if degraded && out.RerankErr != nil {
		log.Warn("rerank degraded, keeping retrieval order",
			slog.String("error", out.RerankErr.Error()))
	}

	results := make([]*SearchResult, 0, len(out.Results))
	for _, r := range out.Results {
		story, ok := byID[r.ID]
		if !ok {
			continue
		}
		SanitizeMetadata(story.Metadata)
		results = append(results, &SearchResult{
			Story:       story,
			Source:      string(r.Source),
			BM25Score:   r.BM25Score,
			VectorScore: r.VectorScore,
			FinalScore:  r.FinalScore,
		})
	}

	timings := Timings{
		Normalize: out.Timings.Normalize,
		Embed:     embedDur,
		BM25:      bm25Dur,
		Vector:    vecDur,
		Merge:     out.Timings.Merge,
		Dedup:     out.Timings.Dedup,
		Rerank:    out.Timings.Rerank,
		Total:     time.Since(start),
	}

	params := ResponseParams{
		Query:       normalized,
		Limit:       limit,
		BM25Ratio:   ratio,
		VectorRatio: 1 - ratio,
		FetchBM25:   fetchBM25,
		FetchVector: fetchVector,
		BM25Count:   len(bm25Results),
		VectorCount: len(vecResults),
	}
	if out.Rerank == hybrid.RerankOK {
		params.RerankModel = e.config.RerankModel
	}

	e.recordQuery(normalized, telemetry.ModeHybrid, len(results), degraded, timings.Total)

	if len(results) < limit {
		log.Warn("returning fewer results than requested",
			slog.Int("requested", limit),
			slog.Int("returned", len(results)))
	}

	log.Info("hybrid search complete",
		slog.String("query", logging.RedactQuery(query)),
		slog.Int("results", len(results)),
		slog.Int("total_count", out.TotalCount),
		slog.Int("removed", out.Removed),
		slog.Bool("degraded", degraded),
		slog.Int64("total_ms", timings.Total.Milliseconds()))

	return &SearchResponse{
		Results:    results,
		TotalCount: out.TotalCount,
		Removed:    out.Removed,
		Degraded:   degraded,
		RequestID:  requestID,
		Params:     params,
		Timings:    timings,
	}, nil
}

// Search runs the vector-only path with the same validation and
// enrichment as HybridSearch.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	requestID := requestIDFrom(ctx)
	log := e.logger.With(slog.String("request_id", requestID))

	normalized := NormalizeQuery(query)
	if err := validation.ValidateQuery(normalized); err != nil {
		return nil, err
	}
	limit, err := validation.ValidateLimit(opts.Limit, e.config.DefaultLimit, e.config.MaxLimit)
	if err != nil {
		return nil, err
	}

	log.Debug("vector search started",
		slog.String("query", logging.RedactQuery(query)),
		slog.Int("limit", limit))

	embedStart := time.Now()
	queryVec, err := e.embedder.Embed(ctx, normalized)
	embedDur := time.Since(embedStart)
	if err != nil {
		return nil, apperrors.EmbeddingError("embed query", err)
	}

	vecStart := time.Now()
	vecResults, err := e.vector.Search(ctx, queryVec, limit)
	vecDur := time.Since(vecStart)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed, "vector retrieval failed", err)
	}
	logStage(log, "vector", len(vecResults), vecDur)

	byID, err := e.fetchStories(ctx, vectorIDs(vecResults))
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(vecResults))
	for _, r := range vecResults {
		story, ok := byID[r.ID]
		if !ok {
			continue
		}
		SanitizeMetadata(story.Metadata)
		score := float64(r.Score)
		results = append(results, &SearchResult{
			Story:       story,
			Source:      string(hybrid.SourceVector),
			VectorScore: score,
			FinalScore:  score,
		})
	}

	timings := Timings{
		Embed:  embedDur,
		Vector: vecDur,
		Total:  time.Since(start),
	}

	e.recordQuery(normalized, telemetry.ModeVector, len(results), false, timings.Total)

	log.Info("vector search complete",
		slog.String("query", logging.RedactQuery(query)),
		slog.Int("results", len(results)),
		slog.Int64("total_ms", timings.Total.Milliseconds()))

	return &SearchResponse{
		Results:    results,
		TotalCount: len(results),
		RequestID:  requestID,
		Params: ResponseParams{
			Query:       normalized,
			Limit:       limit,
			VectorRatio: 1,
			FetchVector: limit,
			VectorCount: len(vecResults),
		},
		Timings: timings,
	}, nil
}

// Stats returns engine statistics.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count, err := e.stories.Count(ctx)
	if err != nil {
		return nil, apperrors.StorageError("count stories", err)
	}

	return &EngineStats{
		StoryCount:  count,
		VectorCount: e.vector.Count(),
		BM25Stats:   e.bm25.Stats(),
	}, nil
}

// Close releases the engine's collaborators. The metrics collector is
// not closed here; its owner closes it first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.reranker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reranker: %w", err))
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close embedder: %w", err))
	}
	if err := e.bm25.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bm25 index: %w", err))
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close vector store: %w", err))
	}
	if err := e.stories.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close story store: %w", err))
	}
	return errors.Join(errs...)
}

// fetchStories batch-loads the stories behind the candidate ids. Unknown
// ids are skipped by the store; callers treat absence as a stale index
// entry.
func (e *Engine) fetchStories(ctx context.Context, ids []string) (map[string]*store.Story, error) {
	byID := make(map[string]*store.Story, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	stories, err := e.stories.GetBatch(ctx, ids)
	if err != nil {
		return nil, apperrors.StorageError("load stories for results", err)
	}
	for _, s := range stories {
		byID[s.ID] = s
	}
	return byID, nil
}

// requestIDFrom prefers a request id already assigned by the transport
// so engine logs correlate with access logs.
func requestIDFrom(ctx context.Context) string {
	if id, ok := logging.RequestID(ctx); ok {
		return id
	}
	return uuid.NewString()
}

func (e *Engine) recordQuery(query string, mode telemetry.QueryMode, resultCount int, degraded bool, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		Mode:        mode,
		ResultCount: resultCount,
		Degraded:    degraded,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// candidateIDs collects the distinct story ids across both retrieval
// sides, BM25 first.
func candidateIDs(bm25 []*store.BM25Result, vec []*store.VectorResult) []string {
	seen := make(map[string]struct{}, len(bm25)+len(vec))
	ids := make([]string, 0, len(bm25)+len(vec))
	for _, r := range bm25 {
		if _, ok := seen[r.DocID]; ok {
			continue
		}
		seen[r.DocID] = struct{}{}
		ids = append(ids, r.DocID)
	}
	for _, r := range vec {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	return ids
}

func vectorIDs(vec []*store.VectorResult) []string {
	ids := make([]string, 0, len(vec))
	for _, r := range vec {
		ids = append(ids, r.ID)
	}
	return ids
}

func logStage(log *slog.Logger, stage string, count int, d time.Duration) {
	log.Debug("stage complete",
		slog.String("stage", stage),
		slog.Int("count", count),
		slog.Int64("duration_ms", d.Milliseconds()))
}
