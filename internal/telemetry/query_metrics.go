// Package telemetry aggregates local query statistics for the stats
// command and the metrics endpoint. Nothing is reported externally.
package telemetry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryMode identifies which retrieval path served a query.
type QueryMode string

const (
	// ModeHybrid is the fused lexical+vector path.
	ModeHybrid QueryMode = "hybrid"
	// ModeVector is the vector-only path.
	ModeVector QueryMode = "vector"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// latencySteps lists bucket upper bounds in ms, exclusive, in order.
var latencySteps = []struct {
	belowMs int64
	bucket  LatencyBucket
}{
	{10, BucketP10},
	{50, BucketP50},
	{100, BucketP100},
	{500, BucketP500},
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	for _, step := range latencySteps {
		if ms < step.belowMs {
			return step.bucket
		}
	}
	return BucketP1000
}

// QueryEvent represents a single served search query.
type QueryEvent struct {
	Query       string
	Mode        QueryMode
	ResultCount int
	Degraded    bool // Reranker was unavailable or failed
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// templateTerms are story-template filler words that dominate backlog
// queries without carrying any signal. They are skipped during term
// extraction so the top-terms report surfaces domain vocabulary.
var templateTerms = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {},
	"that": {}, "this": {}, "have": {}, "are": {}, "was": {},
	"user": {}, "users": {}, "want": {}, "wants": {},
	"story": {}, "stories": {}, "able": {},
	"should": {}, "would": {}, "could": {},
	"given": {}, "when": {}, "then": {},
	"acceptance": {}, "criteria": {},
}

// reportableTerm normalizes one whitespace-delimited word and reports
// whether it is worth counting.
func reportableTerm(word string) (string, bool) {
	word = strings.Trim(word, `.,;:!?"'()[]{}`)
	if len(word) < 3 {
		return "", false
	}
	if _, skip := templateTerms[word]; skip {
		return "", false
	}
	return word, true
}

// ExtractTerms extracts reportable terms from a query string. Terms are
// lowercased, stripped of surrounding punctuation, filtered to minimum
// length 3, and cleared of story-template filler words. Returns nil
// when nothing reportable remains.
func ExtractTerms(query string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if term, ok := reportableTerm(word); ok {
			terms = append(terms, term)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is an immutable snapshot of query metrics.
type QueryMetricsSnapshot struct {
	ModeCounts          map[QueryMode]int64     `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	DegradedCount       int64                   `json:"degraded_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// DegradedPercentage returns the percentage of queries served without
// the reranker.
func (s *QueryMetricsSnapshot) DegradedPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.DegradedCount) / float64(s.TotalQueries) * 100
}

// QueryMetricsStore defines persistence operations for query metrics.
// SQLiteMetricsStore is the production implementation.
type QueryMetricsStore interface {
	SaveModeCounts(date string, counts map[QueryMode]int64) error
	GetModeCounts(from, to string) (map[QueryMode]int64, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity    int           // Max terms to track (default: 100)
	ZeroResultsCapacity int           // Max zero-result queries to track (default: 100)
	FlushInterval       time.Duration // How often to flush to store (default: 60s, 0 = no auto-flush)
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// pendingCounters holds the deltas accumulated since the last flush.
// Flush drains them so the store's additive upserts never count an
// event twice.
type pendingCounters struct {
	modes     map[QueryMode]int64
	terms     map[string]int64
	latencies map[LatencyBucket]int64
	zero      []zeroResultEntry
}

type zeroResultEntry struct {
	query string
	at    time.Time
}

func newPendingCounters() pendingCounters {
	return pendingCounters{
		modes:     make(map[QueryMode]int64),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

func (p pendingCounters) empty() bool {
	return len(p.modes) == 0 && len(p.terms) == 0 && len(p.latencies) == 0 && len(p.zero) == 0
}

// QueryMetrics collects query telemetry for backlog search analysis.
// Thread-safe for concurrent access.
type QueryMetrics struct {
	mu sync.RWMutex

	// Lifetime aggregates, reported by Snapshot.
	modes           map[QueryMode]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	degradedCount   int64
	startTime       time.Time

	pending pendingCounters

	store       QueryMetricsStore
	config      QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a new metrics collector with default configuration.
// If store is nil, metrics are only kept in memory.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a new metrics collector with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &QueryMetrics{
		modes:       make(map[QueryMode]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
		pending:     newPendingCounters(),
		store:       store,
		config:      cfg,
		stopCh:      make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			if err := m.Flush(); err != nil {
				slog.Debug("query_metrics_flush_failed", "error", err)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures metrics from a search query.
// This method is thread-safe and non-blocking.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalQueries++
	m.modes[event.Mode]++
	m.pending.modes[event.Mode]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.terms[term]++
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pending.latencies[bucket]++

	if event.Degraded {
		m.degradedCount++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.pending.zero = append(m.pending.zero, zeroResultEntry{query: event.Query, at: at})
	}
}

// Snapshot returns current lifetime metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	modeCounts := make(map[QueryMode]int64, len(m.modes))
	for k, v := range m.modes {
		modeCounts[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	return &QueryMetricsSnapshot{
		ModeCounts:          modeCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		DegradedCount:       m.degradedCount,
		Since:               m.startTime,
	}
}

// takePending swaps out the accumulated deltas under the lock.
func (m *QueryMetrics) takePending() pendingCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = newPendingCounters()
	return p
}

// Flush persists counters accumulated since the previous flush.
// Safe to call even if no store is configured. A failed flush drops
// that interval's delta.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	p := m.takePending()
	if p.empty() {
		return nil
	}

	date := time.Now().Format("2006-01-02")

	if err := m.store.SaveModeCounts(date, p.modes); err != nil {
		return fmt.Errorf("flush mode counts: %w", err)
	}
	if err := m.store.UpsertTermCounts(p.terms); err != nil {
		return fmt.Errorf("flush term counts: %w", err)
	}
	if err := m.store.SaveLatencyCounts(date, p.latencies); err != nil {
		return fmt.Errorf("flush latency counts: %w", err)
	}
	for _, z := range p.zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return fmt.Errorf("flush zero-result query: %w", err)
		}
	}
	return nil
}

// Close flushes pending counters and releases resources.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	return m.Flush()
}
