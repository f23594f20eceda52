package telemetry

import "sync"

// CircularBuffer is a fixed-capacity FIFO ring. Once full, each write
// overwrites the oldest entry.
type CircularBuffer[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int // slot the next Add writes to
	full bool
}

// NewCircularBuffer creates a ring holding at most capacity entries.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{buf: make([]T, capacity)}
}

// Add appends item, evicting the oldest entry when the ring is full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.next] = item
	b.next++
	if b.next == len(b.buf) {
		b.next = 0
		b.full = true
	}
}

// Items returns the buffered entries, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.sizeLocked()
	start := 0
	if b.full {
		start = b.next
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.buf[(start+i)%len(b.buf)])
	}
	return out
}

// Size reports how many entries the ring currently holds.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sizeLocked()
}

func (b *CircularBuffer[T]) sizeLocked() int {
	if b.full {
		return len(b.buf)
	}
	return b.next
}

// Clear empties the ring. The backing array is kept.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.full = false
}
