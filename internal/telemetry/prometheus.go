package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SearchMetrics exposes operational counters on a private Prometheus
// registry. Query analytics live in QueryMetrics; this type covers the
// signals an operator watches live: traffic, stage latency, and
// degradation.
type SearchMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal       *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	resultCount       *prometheus.HistogramVec
	rerankDegraded    prometheus.Counter
	duplicatesRemoved prometheus.Counter
}

// NewSearchMetrics creates the collectors on a fresh registry.
func NewSearchMetrics() *SearchMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysearch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storysearch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storysearch",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysearch",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total search requests by retrieval mode.",
		},
		[]string{"mode"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storysearch",
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)
	resultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storysearch",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of returned results per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 50, 100},
		},
		[]string{"mode"},
	)
	rerankDegraded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysearch",
			Subsystem: "search",
			Name:      "rerank_degraded_total",
			Help:      "Total searches served without the reranker.",
		},
	)
	duplicatesRemoved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysearch",
			Subsystem: "search",
			Name:      "duplicates_removed_total",
			Help:      "Total near-duplicate results removed before ranking.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		stageDuration,
		resultCount,
		rerankDegraded,
		duplicatesRemoved,
	)

	return &SearchMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		searchTotal:       searchTotal,
		stageDuration:     stageDuration,
		resultCount:       resultCount,
		rerankDegraded:    rerankDegraded,
		duplicatesRemoved: duplicatesRemoved,
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *SearchMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps a route handler with request counting and
// timing. The route string becomes the metric label, so callers must
// pass the registered pattern rather than the raw request path.
func (m *SearchMetrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			status:         http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSearch records the outcome of one search request.
func (m *SearchMetrics) ObserveSearch(mode QueryMode, results, duplicatesRemoved int, degraded bool) {
	m.searchTotal.WithLabelValues(string(mode)).Inc()
	m.resultCount.WithLabelValues(string(mode)).Observe(float64(results))
	if duplicatesRemoved > 0 {
		m.duplicatesRemoved.Add(float64(duplicatesRemoved))
	}
	if degraded {
		m.rerankDegraded.Inc()
	}
}

// ObserveStage records one pipeline stage duration.
func (m *SearchMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
