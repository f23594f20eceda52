package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of file events so one editor save triggers a
// single reindex instead of several. Events for the same path within the
// window merge as:
//
//	CREATE then MODIFY -> CREATE (still a new file)
//	CREATE then DELETE -> dropped (never really existed)
//	MODIFY then DELETE -> DELETE
//	DELETE then CREATE -> MODIFY (file was replaced)
//
// The last rule is what turns an atomic editor save, which deletes the
// original and renames a temp file into place, into a plain MODIFY.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*trackedEvent
	timer   *time.Timer
	out     chan []FileEvent
	stopped bool
}

// trackedEvent remembers the first operation seen in the current window
// so later events coalesce against the start of the burst, not the middle.
type trackedEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*trackedEvent),
		out:     make(chan []FileEvent, 8),
	}
}

// Add records an event, merging it with any pending event for the same path.
// The flush countdown restarts on every call, so a burst of writes is held
// until the file goes quiet for a full window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	tracked, ok := d.pending[event.Path]
	if !ok {
		d.pending[event.Path] = &trackedEvent{event: event, firstOp: event.Operation}
		d.resetTimer()
		return
	}

	merged, drop := coalesce(tracked.firstOp, tracked.event, event)
	if drop {
		delete(d.pending, event.Path)
	} else {
		tracked.event = merged
	}
	d.resetTimer()
}

// coalesce merges two same-path events. drop is true when they cancel out.
func coalesce(firstOp Operation, prev, next FileEvent) (merged FileEvent, drop bool) {
	switch firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			// Writes to a brand-new file are part of its creation.
			return prev, false
		case OpDelete:
			return FileEvent{}, true
		}
	case OpDelete:
		if next.Operation == OpCreate {
			next.Operation = OpModify
			return next, false
		}
	}
	// Everything else keeps the most recent event.
	return next, false
}

// resetTimer restarts the flush countdown. Caller must hold d.mu.
func (d *Debouncer) resetTimer() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush hands all pending events to the output channel as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, tracked := range d.pending {
		batch = append(batch, tracked.event)
	}
	d.pending = make(map[string]*trackedEvent)

	select {
	case d.out <- batch:
	default:
		slog.Warn("debounce output full, dropping batch",
			slog.Int("batch_size", len(batch)),
		)
	}
}

// Output returns the channel of coalesced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
