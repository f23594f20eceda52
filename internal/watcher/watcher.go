package watcher

import (
	"fmt"
	"time"
)

// Operation classifies a change to the watched corpus file.
type Operation int

const (
	// OpCreate: the corpus file appeared.
	OpCreate Operation = iota
	// OpModify: the corpus file content changed.
	OpModify
	// OpDelete: the corpus file was removed or renamed away.
	OpDelete
)

var opNames = [...]string{
	OpCreate: "CREATE",
	OpModify: "MODIFY",
	OpDelete: "DELETE",
}

// String returns the operation name used in log lines.
func (op Operation) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "UNKNOWN"
	}
	return opNames[op]
}

// FileEvent is one observed change to the watched file.
type FileEvent struct {
	// Path is the absolute path of the watched file.
	Path string

	// Operation is the kind of change observed.
	Operation Operation

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// AllDeletes reports whether every event in the batch is a delete. Such a
// batch means the corpus file vanished without being replaced; a file
// swapped by an editor save coalesces to MODIFY instead.
func AllDeletes(events []FileEvent) bool {
	if len(events) == 0 {
		return false
	}
	for _, ev := range events {
		if ev.Operation != OpDelete {
			return false
		}
	}
	return true
}

// Defaults for zero-valued Options fields.
const (
	defaultDebounceWindow  = 200 * time.Millisecond
	defaultPollInterval    = 2 * time.Second
	defaultEventBufferSize = 16
)

// Options tunes how changes are detected and delivered.
type Options struct {
	// DebounceWindow is how long to collect events before emitting one
	// coalesced batch.
	DebounceWindow time.Duration

	// PollInterval is the stat interval when the watcher falls back to
	// polling.
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel.
	EventBufferSize int
}

// DefaultOptions returns the options used when callers tune nothing.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  defaultDebounceWindow,
		PollInterval:    defaultPollInterval,
		EventBufferSize: defaultEventBufferSize,
	}
}

// Validate rejects options no watcher could run with.
func (o Options) Validate() error {
	switch {
	case o.DebounceWindow < 0:
		return fmt.Errorf("debounce window must not be negative, got %s", o.DebounceWindow)
	case o.PollInterval < 0:
		return fmt.Errorf("poll interval must not be negative, got %s", o.PollInterval)
	case o.EventBufferSize < 0:
		return fmt.Errorf("event buffer size must not be negative, got %d", o.EventBufferSize)
	}
	return nil
}

// WithDefaults fills zero fields with their defaults.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaultDebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaultEventBufferSize
	}
	return o
}
