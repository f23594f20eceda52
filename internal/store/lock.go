package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const indexLockFile = "index.lock"

// IndexLock serializes index writes across processes with an advisory file
// lock. A serve process holds it while open, so a concurrent indexing run
// waits (or bails out, via TryLock) instead of corrupting the stores
// mid-write.
type IndexLock struct {
	path string
	fl   *flock.Flock
	held bool
}

// NewIndexLock builds the lock for dataDir. The lock file lives at
// <dataDir>/index.lock.
func NewIndexLock(dataDir string) *IndexLock {
	p := filepath.Join(dataDir, indexLockFile)
	return &IndexLock{path: p, fl: flock.New(p)}
}

// Lock blocks until the lock is acquired, creating the data directory and
// lock file as needed.
func (l *IndexLock) Lock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.held = true
	return nil
}

// TryLock is the non-blocking variant. A false return with a nil error
// means another process holds the lock.
func (l *IndexLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		l.held = true
	}
	return ok, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op, so callers
// can defer it unconditionally.
func (l *IndexLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path is the lock file location.
func (l *IndexLock) Path() string { return l.path }

// IsLocked reports whether this process currently holds the lock.
func (l *IndexLock) IsLocked() bool { return l.held }

func (l *IndexLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
