package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher watches a single file by periodically comparing its mtime
// and size. Used as a fallback when fsnotify is not available.
type PollingWatcher struct {
	interval time.Duration
	last     fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
	filePath string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	exists  bool
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		events:   make(chan FileEvent, 16),
		errors:   make(chan error, 4),
		stopCh:   make(chan struct{}),
	}
}

// Start polls the given file until the context is cancelled or Stop is
// called. A file that does not exist yet is fine; its appearance is
// reported as a CREATE.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.filePath = absPath

	// Baseline so the first tick only reports actual changes
	if info, err := os.Stat(absPath); err == nil {
		p.last = fileSnapshot{modTime: info.ModTime(), size: info.Size(), exists: true}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.check()
		}
	}
}

// check stats the file and emits an event if it changed since last tick.
func (p *PollingWatcher) check() {
	info, err := os.Stat(p.filePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Transient stat failure; keep the old snapshot so the next
		// successful poll diffs against real state.
		p.emitError(err)
		return
	}

	current := fileSnapshot{}
	if err == nil {
		current = fileSnapshot{modTime: info.ModTime(), size: info.Size(), exists: true}
	}
	prev := p.last
	p.last = current

	switch {
	case current.exists && !prev.exists:
		p.emit(FileEvent{Path: p.filePath, Operation: OpCreate, Timestamp: time.Now()})
	case !current.exists && prev.exists:
		p.emit(FileEvent{Path: p.filePath, Operation: OpDelete, Timestamp: time.Now()})
	case current.exists && (!current.modTime.Equal(prev.modTime) || current.size != prev.size):
		p.emit(FileEvent{Path: p.filePath, Operation: OpModify, Timestamp: time.Now()})
	}
}

// emit sends an event to the events channel without blocking.
func (p *PollingWatcher) emit(event FileEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("op", event.Operation.String()),
		)
	}
}

// emitError sends an error to the error channel without blocking.
func (p *PollingWatcher) emitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	select {
	case p.errors <- err:
	default:
	}
}

// Stop stops the polling watcher. Safe to call multiple times.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
