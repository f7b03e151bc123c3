package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/anythingd/internal/observer"
)

// HybridWatcher implements the Watcher interface using fsnotify as the primary
// watching mechanism with polling as a fallback.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	filter      *Filter
	logger      *slog.Logger
	events      chan observer.Event
	errors      chan error
	stopCh      chan struct{}
	roots       []string
	opts        Options
	mu          sync.RWMutex
	stopped     bool
	dropped     atomic.Uint64

	// A rename source waiting for its destination.
	pendingMu sync.Mutex
	pending   *pendingRename
}

type pendingRename struct {
	path  string
	timer *time.Timer
}

// Ensure HybridWatcher implements Watcher interface.
var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a new hybrid watcher with the given options.
// Attempts to use fsnotify first, falls back to polling if it fails.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	filter, err := NewFilter(opts.Exclude)
	if err != nil {
		return nil, err
	}

	h := &HybridWatcher{
		filter: filter,
		logger: opts.Logger,
		events: make(chan observer.Event, opts.EventBufferSize),
		errors: make(chan error, 10),
		stopCh: make(chan struct{}),
		opts:   opts,
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			h.useFsnotify = true
			return h, nil
		}
		h.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()),
			slog.Duration("interval", opts.PollInterval))
	}

	h.pollWatcher = NewPollingWatcher(opts.PollInterval, filter)
	return h, nil
}

// Start begins watching roots and blocks until the watcher stops.
func (h *HybridWatcher) Start(ctx context.Context, roots []string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no paths to watch")
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		info, err := os.Stat(a)
		if err != nil {
			return fmt.Errorf("watch root %s: %w", a, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch root %s: not a directory", a)
		}
		abs = append(abs, a)
	}
	// Longest first so the innermost root wins in relPath.
	sort.Slice(abs, func(i, j int) bool { return len(abs[i]) > len(abs[j]) })

	h.mu.Lock()
	h.roots = abs
	h.mu.Unlock()

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify starts the fsnotify-based watcher.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	for _, root := range h.roots {
		if err := h.addRecursive(root); err != nil {
			return fmt.Errorf("add directories to watcher: %w", err)
		}
	}
	h.logger.Info("watching",
		slog.Any("roots", h.roots),
		slog.String("type", h.WatcherType()))

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// startPolling starts the polling-based watcher.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.emit(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	h.logger.Info("watching",
		slog.Any("roots", h.roots),
		slog.String("type", h.WatcherType()))

	err := h.pollWatcher.Start(ctx, h.roots)
	if ctx.Err() != nil {
		_ = h.Stop()
	}
	return err
}

// handleFsnotifyEvent converts and filters fsnotify events.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	rel, ok := h.relPath(event.Name)
	if !ok || h.filter.Excluded(rel) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := h.addRecursive(event.Name); err != nil {
				h.emitError(err)
			}
		}
		if old, paired := h.takePending(); paired {
			h.emit(observer.Event{Kind: observer.Renamed, OldPath: old, Path: event.Name})
			return
		}
		h.emit(observer.Event{Kind: observer.Created, Path: event.Name})

	case event.Op&fsnotify.Remove != 0:
		h.flushPending()
		h.emit(observer.Event{Kind: observer.Deleted, Path: event.Name})

	case event.Op&fsnotify.Rename != 0:
		h.setPending(event.Name)

	default:
		// Write and Chmod carry no create/delete/rename meaning.
	}
}

// setPending holds a rename source until its destination shows up or the
// window passes. A previous unpaired source is reported as deleted first.
func (h *HybridWatcher) setPending(path string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	if h.pending != nil {
		h.pending.timer.Stop()
		h.emit(observer.Event{Kind: observer.Deleted, Path: h.pending.path})
	}

	p := &pendingRename{path: path}
	p.timer = time.AfterFunc(h.opts.RenameWindow, func() {
		h.pendingMu.Lock()
		defer h.pendingMu.Unlock()
		if h.pending == p {
			h.pending = nil
			h.emit(observer.Event{Kind: observer.Deleted, Path: p.path})
		}
	})
	h.pending = p
}

func (h *HybridWatcher) takePending() (string, bool) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	if h.pending == nil {
		return "", false
	}
	p := h.pending
	h.pending = nil
	p.timer.Stop()
	return p.path, true
}

func (h *HybridWatcher) flushPending() {
	if old, ok := h.takePending(); ok {
		h.emit(observer.Event{Kind: observer.Deleted, Path: old})
	}
}

// relPath returns path relative to the innermost root containing it.
func (h *HybridWatcher) relPath(path string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, root := range h.roots {
		if path == root {
			return ".", true
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return "", false
			}
			return rel, true
		}
	}
	return "", false
}

// addRecursive adds every non-excluded directory under dir to the fsnotify watcher.
func (h *HybridWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip entries we can't access
		}
		if !d.IsDir() {
			return nil
		}

		if rel, ok := h.relPath(path); ok && rel != "." && h.filter.Excluded(rel) {
			return filepath.SkipDir
		}

		if err := h.fsWatcher.Add(path); err != nil {
			if path == dir {
				return err
			}
			h.logger.Debug("cannot watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// emit sends an event without blocking. A full buffer drops the event.
func (h *HybridWatcher) emit(ev observer.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	select {
	case h.events <- ev:
	default:
		count := h.dropped.Add(1)
		h.logger.Warn("event buffer full, dropping event",
			slog.String("op", ev.Kind.String()),
			slog.String("path", ev.Path),
			slog.Uint64("total_dropped", count),
		)
	}
}

// Dropped returns the number of events dropped due to buffer overflow.
func (h *HybridWatcher) Dropped() uint64 {
	return h.dropped.Load()
}

// emitError sends an error to the error channel.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
		h.logger.Warn("watcher error", slog.String("error", err.Error()))
	}
}

// Stop stops the watcher and releases resources.
func (h *HybridWatcher) Stop() error {
	h.pendingMu.Lock()
	if h.pending != nil {
		h.pending.timer.Stop()
		h.pending = nil
	}
	h.pendingMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	h.stopped = true
	close(h.stopCh)

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of file events.
func (h *HybridWatcher) Events() <-chan observer.Event {
	return h.events
}

// Errors returns the channel of errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns the type of watcher being used ("fsnotify" or "polling").
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// Roots returns the watched root directories.
func (h *HybridWatcher) Roots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.roots...)
}
