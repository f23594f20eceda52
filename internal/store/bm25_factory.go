package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend selects the lexical index implementation.
type BM25Backend string

const (
	// BM25BackendBleve is the default. BoltDB underneath means an exclusive
	// file lock, so one process at a time.
	BM25BackendBleve BM25Backend = "bleve"

	// BM25BackendSQLite trades that for FTS5 in WAL mode, which lets an
	// index run share the file with a running server.
	BM25BackendSQLite BM25Backend = "sqlite"
)

// NewBM25IndexWithBackend builds the configured BM25Index. basePath carries
// no extension; the backend appends its own (.bleve directory, .db file).
// An empty basePath selects the in-memory variant of either backend.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendBleve, "":
		return NewBleveBM25Index(withIndexExt(basePath, ".bleve"), config)
	case BM25BackendSQLite:
		return NewSQLiteBM25Index(withIndexExt(basePath, ".db"), config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: bleve, sqlite)", backend)
	}
}

func withIndexExt(basePath, ext string) string {
	if basePath == "" {
		return ""
	}
	return basePath + ext
}

// DetectBM25Backend reports which backend wrote the index at basePath, or ""
// when none exists. Commands prefer the detected backend over the configured
// one so switching config does not silently start from an empty index.
func DetectBM25Backend(basePath string) BM25Backend {
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve // checked first since it is the default
	}
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	return ""
}

// GetBM25IndexPath resolves the on-disk location of the BM25 index for the
// given backend under dataDir.
func GetBM25IndexPath(dataDir string, backend string) string {
	base := filepath.Join(dataDir, "bm25")
	if BM25Backend(backend) == BM25BackendSQLite {
		return base + ".db"
	}
	return base + ".bleve"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
