package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// InstanceLock is an advisory file lock held for the daemon's lifetime.
// The kernel drops it when the process dies, so a crashed daemon never
// leaves a lock behind.
type InstanceLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewInstanceLock creates a lock on path. Nothing is acquired yet.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another process holds it.
func (l *InstanceLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *InstanceLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// IsLocked reports whether this instance holds the lock.
func (l *InstanceLock) IsLocked() bool {
	return l.locked
}
