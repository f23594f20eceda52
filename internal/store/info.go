package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IndexInfo summarizes the on-disk state of a data directory.
// This feeds the stats command and the health endpoint.
type IndexInfo struct {
	DataDir string

	// Counts
	StoryCount    int
	BM25Documents int
	VectorCount   int

	// Backend and embedding identity
	BM25Backend         string
	EmbeddingModel      string
	EmbeddingProvider   string
	EmbeddingDimensions int

	// Sizes on disk
	StoreSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64
	TotalSizeBytes  int64

	// IndexedAt is when the index was last rebuilt (zero if never)
	IndexedAt time.Time
}

// CollectIndexInfo gathers statistics from the open stores and the files
// under dataDir. Stores may be nil when only disk-level info is wanted.
func CollectIndexInfo(ctx context.Context, dataDir string, stories StoryStore, bm25 BM25Index, vectors VectorStore) (*IndexInfo, error) {
	info := &IndexInfo{DataDir: dataDir}

	if stories != nil {
		count, err := stories.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count stories: %w", err)
		}
		info.StoryCount = count

		info.EmbeddingModel, _ = stories.GetState(ctx, StateKeyIndexModel)
		if dim, err := stories.GetState(ctx, StateKeyIndexDimension); err == nil && dim != "" {
			info.EmbeddingDimensions, _ = strconv.Atoi(dim)
		}
		if at, err := stories.GetState(ctx, StateKeyIndexedAt); err == nil && at != "" {
			if t, err := time.Parse(time.RFC3339, at); err == nil {
				info.IndexedAt = t
			}
		}
		info.EmbeddingProvider = inferProviderFromModel(info.EmbeddingModel)
	}

	if bm25 != nil {
		info.BM25Documents = bm25.Stats().DocumentCount
	}
	if vectors != nil {
		info.VectorCount = vectors.Count()
	}

	// Disk-level info
	basePath := filepath.Join(dataDir, "bm25")
	info.BM25Backend = string(DetectBM25Backend(basePath))
	if info.BM25Backend != "" {
		info.BM25SizeBytes = getDirSize(GetBM25IndexPath(dataDir, info.BM25Backend))
	}
	info.StoreSizeBytes = getDirSize(filepath.Join(dataDir, "stories.db"))
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorSizeBytes = getDirSize(vectorPath) + getDirSize(vectorPath+".meta")
	info.TotalSizeBytes = getDirSize(dataDir)

	return info, nil
}

// inferProviderFromModel guesses the embedding provider from a model name.
// Static models are named "static" or "static<dims>"; anything else is
// served by an OpenAI-compatible endpoint.
func inferProviderFromModel(model string) string {
	if model == "" {
		return "unknown"
	}
	if containsAny(model, []string{"static"}) {
		return "static"
	}
	return "openai"
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FormatBytes renders a byte count in human-readable form ("1.5 KB").
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatTime renders a timestamp for display, "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// getDirSize returns the total size of all files under path (recursive).
// Works for single files too. Returns 0 if the path doesn't exist.
func getDirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
