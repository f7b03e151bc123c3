package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/anythingd/internal/observer"
)

// Watcher defines the interface for file system watching.
type Watcher interface {
	// Start begins watching the given directories recursively and blocks
	// until Stop is called or ctx is cancelled.
	Start(ctx context.Context, roots []string) error

	// Stop stops the watcher and releases resources.
	// Safe to call multiple times.
	Stop() error

	// Events returns a channel of file events.
	// The channel is closed when the watcher stops.
	Events() <-chan observer.Event

	// Errors returns a channel of watcher errors.
	// Non-fatal errors are sent here; the watcher continues running.
	// The channel is closed when the watcher stops.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// Exclude lists glob patterns. A path is skipped when a pattern matches
	// its path relative to the root or any single segment of that path.
	Exclude []string

	// PollInterval is the interval for polling mode (fallback).
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1000
	EventBufferSize int

	// RenameWindow is how long a rename source waits for its destination
	// before it is reported as a deletion.
	// Default: 100ms
	RenameWindow time.Duration

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool

	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
		RenameWindow:    100 * time.Millisecond,
	}
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	_, err := NewFilter(o.Exclude)
	return err
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.RenameWindow <= 0 {
		o.RenameWindow = defaults.RenameWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
