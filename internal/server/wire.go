package server

import (
	"encoding/json"
	"io"
	"time"

	"github.com/backlogic/storysearch/internal/search"
)

// searchRequest is the request body shared by both search endpoints.
// Limit and bm25_ratio are pointers so absence and zero stay distinct;
// absent fields fall back to the engine defaults.
type searchRequest struct {
	Query     string   `json:"query"`
	Limit     *int     `json:"limit"`
	BM25Ratio *float64 `json:"bm25_ratio"`
}

func decodeSearchRequest(body io.Reader) (searchRequest, error) {
	var req searchRequest
	err := json.NewDecoder(body).Decode(&req)
	return req, err
}

// errorEnvelope is the error shape for all endpoints. Code carries the
// structured error code when one exists.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// storyResult is one ranked story on the wire.
type storyResult struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Project     string            `json:"project,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Risk        string            `json:"risk,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Source      string            `json:"source"`
	BM25Score   float64           `json:"bm25_score"`
	VectorScore float64           `json:"vector_score"`
	FinalScore  float64           `json:"final_score"`
}

// responseParams echoes what the engine actually ran after defaulting
// and clamping.
type responseParams struct {
	Query       string  `json:"query"`
	Limit       int     `json:"limit"`
	BM25Ratio   float64 `json:"bm25_ratio"`
	VectorRatio float64 `json:"vector_ratio"`
	BM25Fetch   int     `json:"bm25_fetch"`
	VectorFetch int     `json:"vector_fetch"`
	BM25Count   int     `json:"bm25_count"`
	VectorCount int     `json:"vector_count"`
	RerankModel string  `json:"rerank_model,omitempty"`
}

type responseTimings struct {
	NormalizeMS float64 `json:"normalize_ms"`
	EmbedMS     float64 `json:"embed_ms"`
	BM25MS      float64 `json:"bm25_ms"`
	VectorMS    float64 `json:"vector_ms"`
	MergeMS     float64 `json:"merge_ms"`
	DedupMS     float64 `json:"dedup_ms"`
	RerankMS    float64 `json:"rerank_ms"`
	TotalMS     float64 `json:"total_ms"`
}

// hybridSearchResponse is the full hybrid endpoint payload.
type hybridSearchResponse struct {
	RequestID  string          `json:"request_id"`
	Results    []storyResult   `json:"results"`
	TotalCount int             `json:"total_count"`
	Removed    int             `json:"removed"`
	Degraded   bool            `json:"degraded"`
	Params     responseParams  `json:"params"`
	Timings    responseTimings `json:"timings"`
}

// vectorSearchResponse is the compact payload of the plain search
// endpoint, for callers that only need ranked content.
type vectorSearchResponse struct {
	Results    []vectorResult `json:"results"`
	TotalCount int            `json:"total_count"`
}

type vectorResult struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type embeddingTestResponse struct {
	OK       bool                 `json:"ok"`
	Model    string               `json:"model,omitempty"`
	Length   int                  `json:"length,omitempty"`
	TimingMS float64              `json:"timing_ms,omitempty"`
	Cache    *embeddingCacheStats `json:"cache,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// embeddingCacheStats is reported when the embedder carries an LRU cache.
type embeddingCacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func hybridResponseFrom(resp *search.SearchResponse) hybridSearchResponse {
	results := make([]storyResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, storyResult{
			ID:          r.Story.ID,
			Title:       r.Story.Title,
			Content:     r.Story.Content,
			Project:     r.Story.Project,
			Priority:    r.Story.Priority,
			Risk:        r.Story.Risk,
			Labels:      r.Story.Labels,
			Metadata:    r.Story.Metadata,
			Source:      r.Source,
			BM25Score:   r.BM25Score,
			VectorScore: r.VectorScore,
			FinalScore:  r.FinalScore,
		})
	}

	return hybridSearchResponse{
		RequestID:  resp.RequestID,
		Results:    results,
		TotalCount: resp.TotalCount,
		Removed:    resp.Removed,
		Degraded:   resp.Degraded,
		Params: responseParams{
			Query:       resp.Params.Query,
			Limit:       resp.Params.Limit,
			BM25Ratio:   resp.Params.BM25Ratio,
			VectorRatio: resp.Params.VectorRatio,
			BM25Fetch:   resp.Params.FetchBM25,
			VectorFetch: resp.Params.FetchVector,
			BM25Count:   resp.Params.BM25Count,
			VectorCount: resp.Params.VectorCount,
			RerankModel: resp.Params.RerankModel,
		},
		Timings: timingsFrom(resp.Timings),
	}
}

func searchResponseFrom(resp *search.SearchResponse) vectorSearchResponse {
	results := make([]vectorResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, vectorResult{
			ID:       r.Story.ID,
			Title:    r.Story.Title,
			Content:  r.Story.Content,
			Score:    r.FinalScore,
			Metadata: r.Story.Metadata,
		})
	}
	return vectorSearchResponse{Results: results, TotalCount: resp.TotalCount}
}

func timingsFrom(t search.Timings) responseTimings {
	return responseTimings{
		NormalizeMS: durationMS(t.Normalize),
		EmbedMS:     durationMS(t.Embed),
		BM25MS:      durationMS(t.BM25),
		VectorMS:    durationMS(t.Vector),
		MergeMS:     durationMS(t.Merge),
		DedupMS:     durationMS(t.Dedup),
		RerankMS:    durationMS(t.Rerank),
		TotalMS:     durationMS(t.Total),
	}
}

// durationMS converts to fractional milliseconds for JSON payloads.
func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
