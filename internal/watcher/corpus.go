package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CorpusWatcher watches a single story corpus file for changes. fsnotify is
// the primary mechanism; when it cannot be initialized (some network mounts
// and container filesystems), the watcher falls back to polling the file's
// mtime and size.
//
// The file's parent directory is watched rather than the file itself:
// editors save by writing a temp file and renaming it over the original,
// which silently detaches a watch placed on the file's inode.
type CorpusWatcher struct {
	fsWatcher      *fsnotify.Watcher
	poller         *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	filePath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// Events() returns batched events ([]FileEvent) due to debouncing.
var _ interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
} = (*CorpusWatcher)(nil)

// NewCorpusWatcher creates a watcher with the given options.
// Attempts to use fsnotify first, falls back to polling if that fails.
func NewCorpusWatcher(opts Options) (*CorpusWatcher, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	w := &CorpusWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsWatcher = fsw
		w.useFsnotify = true
	} else {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		w.poller = NewPollingWatcher(opts.PollInterval)
	}

	return w, nil
}

// Start blocks watching the given file until the context is cancelled or
// Stop is called. The file itself does not have to exist yet, but its
// parent directory does.
func (w *CorpusWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.mu.Lock()
	w.filePath = absPath
	w.mu.Unlock()

	go w.forwardBatches(ctx)

	if w.useFsnotify {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

// runFsnotify watches the parent directory and filters events down to the
// corpus file.
func (w *CorpusWatcher) runFsnotify(ctx context.Context) error {
	dir := filepath.Dir(w.filePath)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// runPolling drives the fallback poller, feeding its events through the
// debouncer.
func (w *CorpusWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.poller.Events():
				if !ok {
					return
				}
				w.debouncer.Add(event)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	return w.poller.Start(ctx, w.filePath)
}

// handleFsnotifyEvent converts directory events into corpus file events,
// dropping everything that is not about the watched file.
func (w *CorpusWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.filePath {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// A rename moves the file away from the watched name, which from
		// this side is a delete. If a replacement is renamed in, its
		// CREATE merges with this into a MODIFY.
		op = OpDelete
	default:
		// Chmod and other noise.
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      w.filePath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// forwardBatches moves debounced batches to the public events channel.
func (w *CorpusWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.emitBatch(batch)
		}
	}
}

// emitBatch sends a batch to the events channel. The read lock is held
// across the send so Stop cannot close the channel mid-send.
func (w *CorpusWatcher) emitBatch(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- batch:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("watch event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

// emitError sends an error to the error channel.
func (w *CorpusWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// DroppedBatches returns the number of event batches dropped because the
// events channel was full.
func (w *CorpusWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Stop stops the watcher and closes the event channels.
// Safe to call multiple times.
func (w *CorpusWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}

	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()

	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (w *CorpusWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *CorpusWatcher) Errors() <-chan error {
	return w.errors
}

// Mode reports which mechanism is active: "fsnotify" or "polling".
func (w *CorpusWatcher) Mode() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// IsHealthy returns true if the watcher has not been stopped.
func (w *CorpusWatcher) IsHealthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.stopped
}

// Path returns the absolute path of the watched file.
func (w *CorpusWatcher) Path() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filePath
}
