package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/anythingd/internal/observer"
)

// PollingWatcher watches for file changes by periodically scanning the roots.
// Used as a fallback when fsnotify is not available or fails. It cannot tell
// a rename from a delete followed by a create and reports it as such.
type PollingWatcher struct {
	interval  time.Duration
	filter    *Filter
	fileState map[string]bool // absolute path -> isDir
	events    chan observer.Event
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	stopped   bool
	roots     []string
}

// NewPollingWatcher creates a new polling watcher with the given interval.
// filter may be nil.
func NewPollingWatcher(interval time.Duration, filter *Filter) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		filter:    filter,
		fileState: make(map[string]bool),
		events:    make(chan observer.Event, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start scans roots once to establish a baseline, then rescans every
// interval until Stop or ctx.
func (p *PollingWatcher) Start(ctx context.Context, roots []string) error {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		abs = append(abs, a)
	}
	p.mu.Lock()
	p.roots = abs
	p.mu.Unlock()

	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.fileState = current
	p.mu.Unlock()

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
			if err := p.detectChanges(); err != nil {
				// Non-fatal error, send to error channel
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
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
func (p *PollingWatcher) Events() <-chan observer.Event {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// scan walks every root and returns the paths found.
func (p *PollingWatcher) scan() (map[string]bool, error) {
	p.mu.RLock()
	roots := p.roots
	p.mu.RUnlock()

	state := make(map[string]bool)
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				return nil // Skip files we can't access
			}
			if path == root {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			if p.filter.Excluded(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			state[path] = d.IsDir()
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// detectChanges compares current state with previous state and emits events.
func (p *PollingWatcher) detectChanges() error {
	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var created, deleted []string
	for path := range current {
		if _, exists := p.fileState[path]; !exists {
			created = append(created, path)
		}
	}
	for path := range p.fileState {
		if _, exists := current[path]; !exists {
			deleted = append(deleted, path)
		}
	}

	// Parents before children for creates, children before parents for deletes.
	sort.Strings(created)
	sort.Sort(sort.Reverse(sort.StringSlice(deleted)))

	for _, path := range deleted {
		p.emitEvent(observer.Event{Kind: observer.Deleted, Path: path})
	}
	for _, path := range created {
		p.emitEvent(observer.Event{Kind: observer.Created, Path: path})
	}

	p.fileState = current
	return nil
}

// emitEvent sends an event to the events channel.
// Must be called with lock held.
func (p *PollingWatcher) emitEvent(event observer.Event) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Kind.String()),
		)
	}
}
