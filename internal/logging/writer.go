package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer that appends to a log file and rotates it
// once it grows past a size limit. Rotated files carry numeric suffixes:
// storysearch.log.1 is the most recent, higher numbers are older.
type RotatingWriter struct {
	path  string
	limit int64
	keep  int

	mu   sync.Mutex
	file *os.File
	size int64
	// Sync after every write so `storysearch logs -f` sees lines as they land.
	eagerSync bool
}

// NewRotatingWriter opens (or creates) the log file at path, creating its
// directory if needed. maxSizeMB is the rotation threshold and maxFiles the
// number of rotated files kept. Per-write sync starts enabled.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:      path,
		limit:     int64(maxSizeMB) * 1024 * 1024,
		keep:      maxFiles,
		eagerSync: true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the per-write fsync. Disabling it buffers writes
// for throughput at the cost of delayed visibility when tailing.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.eagerSync = enabled
}

// Write appends p to the current file, rotating first when the write would
// push it past the size limit. A failed rotation is reported on stderr and
// the write proceeds against the current file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err == nil && w.eagerSync {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes pending writes to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate closes the current file, shifts the numbered history up one slot
// and reopens a fresh file at the base path.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	// Drop anything at or past the retention limit, including stragglers
	// left by an earlier run with a higher maxFiles.
	stale, _ := filepath.Glob(w.path + ".*")
	for _, p := range stale {
		if idx, ok := w.rotationIndex(p); ok && idx >= w.keep {
			_ = os.Remove(p)
		}
	}

	// Shift survivors up from the oldest down: .2 -> .3, then .1 -> .2.
	for i := w.keep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", w.path, i+1))
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.size = 0
	return w.open()
}

// rotationIndex extracts n from a "<path>.<n>" rotated file name.
func (w *RotatingWriter) rotationIndex(p string) (int, bool) {
	suffix := strings.TrimPrefix(p, w.path+".")
	if suffix == p {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}
