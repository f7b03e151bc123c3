// Package registry holds the live set of observers, each bound to its own
// sequential executor.
//
// Mutations are serialized by a mutex held only while the entry map is
// updated. Readers never take it: every committed mutation publishes an
// immutable snapshot that Snapshot returns without locking. Remove waits
// for executors to drain outside the mutex, so a slow observer only delays
// the caller removing it.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/observer"
)

// Options configures a Registry.
type Options struct {
	// DrainTimeout bounds how long Remove waits for one executor to drain.
	// Zero waits until the caller's context ends.
	DrainTimeout time.Duration

	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry maps plugin keys to live observer entries.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry

	snapshot atomic.Pointer[[]*Entry]
}

// New creates an empty registry.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
	empty := []*Entry{}
	r.snapshot.Store(&empty)
	return r
}

// Add binds handle to a fresh executor and registers it under key.
// A nil handle or a key that is already live is rejected and logged;
// no entry is created.
func (r *Registry) Add(key string, handle observer.Observer) error {
	if handle == nil {
		err := aerrors.New(aerrors.ErrCodeNilHandle, fmt.Sprintf("observer %q has no handle", key), nil).
			WithDetail("key", key)
		r.logger.Warn("observer not added", aerrors.LogAttrs(err)...)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		err := aerrors.New(aerrors.ErrCodeDuplicateKey, fmt.Sprintf("observer %q is already registered", key), nil).
			WithDetail("key", key)
		r.logger.Warn("observer not added", aerrors.LogAttrs(err)...)
		return err
	}

	e := &Entry{
		key:    key,
		handle: handle,
		exec:   observer.NewExecutor(key, r.logger),
	}
	e.attached.Store(true)
	r.entries[key] = e
	r.publishLocked()

	r.logger.Info("observer added", slog.String("key", key))
	return nil
}

// Remove unregisters every live entry whose key is in keys.
//
// Each entry is handled independently: its executor stops accepting work,
// Remove blocks until everything already queued has run, then the entry is
// detached, dropped from the registry and its handle released. An entry
// whose executor does not drain within the wait policy stays registered
// and its failure is included in the returned error. Unknown keys are
// ignored. A key already being removed by another caller is waited on
// under the same policy; only the first caller releases it.
func (r *Registry) Remove(ctx context.Context, keys []string) error {
	type target struct {
		entry   *Entry
		removal *removal
	}

	r.mu.Lock()
	var (
		owned   []target
		pending []target
	)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		e, ok := r.entries[key]
		if !ok {
			continue
		}
		if e.removal != nil {
			// Another caller is draining this entry; wait for it below.
			pending = append(pending, target{entry: e, removal: e.removal})
			continue
		}
		e.removal = &removal{done: make(chan struct{})}
		owned = append(owned, target{entry: e, removal: e.removal})
	}
	r.mu.Unlock()

	// Stop everything first so independent observers drain in parallel.
	for _, t := range owned {
		t.entry.exec.Stop()
	}

	var errs []error
	for _, t := range owned {
		e := t.entry
		if err := r.drain(ctx, e); err != nil {
			r.mu.Lock()
			e.removal = nil
			r.mu.Unlock()
			e.stuck.Store(true)
			t.removal.err = err
			close(t.removal.done)
			r.logger.Error("observer left registered", aerrors.LogAttrs(err)...)
			errs = append(errs, err)
			continue
		}

		e.attached.Store(false)

		r.mu.Lock()
		delete(r.entries, e.key)
		r.publishLocked()
		r.mu.Unlock()

		r.release(e)
		close(t.removal.done)
		r.logger.Info("observer removed",
			slog.String("key", e.key),
			slog.Uint64("processed", e.exec.Processed()))
	}

	for _, t := range pending {
		if err := r.awaitRemoval(ctx, t.entry, t.removal); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

// awaitRemoval waits, under the same policy as drain, for a removal started
// by another caller to finish.
func (r *Registry) awaitRemoval(ctx context.Context, e *Entry, rm *removal) error {
	waitCtx := ctx
	if r.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.opts.DrainTimeout)
		defer cancel()
	}

	select {
	case <-rm.done:
		return rm.err
	case <-waitCtx.Done():
		return r.drainError(e, waitCtx.Err())
	}
}

// RemoveAll removes every registered observer.
func (r *Registry) RemoveAll(ctx context.Context) error {
	return r.Remove(ctx, r.Keys())
}

// Snapshot returns the entries live at the time of the call.
// The returned slice must not be modified.
func (r *Registry) Snapshot() []*Entry {
	return *r.snapshot.Load()
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	snap := r.Snapshot()
	keys := make([]string, len(snap))
	for i, e := range snap {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return len(r.Snapshot())
}

// Get returns the entry registered under key.
func (r *Registry) Get(key string) (*Entry, bool) {
	for _, e := range r.Snapshot() {
		if e.key == key {
			return e, true
		}
	}
	return nil, false
}

// Info returns a status line per registered entry.
func (r *Registry) Info() []EntryInfo {
	snap := r.Snapshot()
	infos := make([]EntryInfo, len(snap))
	for i, e := range snap {
		infos[i] = e.Info()
	}
	return infos
}

func (r *Registry) drain(ctx context.Context, e *Entry) error {
	waitCtx := ctx
	if r.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.opts.DrainTimeout)
		defer cancel()
	}

	if err := e.exec.Wait(waitCtx); err != nil {
		return r.drainError(e, err)
	}
	return nil
}

func (r *Registry) drainError(e *Entry, cause error) error {
	return aerrors.New(aerrors.ErrCodeDrainTimeout,
		fmt.Sprintf("observer %q did not drain", e.key), cause).
		WithDetail("key", e.key).
		WithDetail("pending", strconv.Itoa(e.exec.Pending())).
		WithSuggestion("the observer is stuck in a callback; it stays registered until the service restarts")
}

// release closes the handle if it owns resources. Only called after the
// entry's executor has exited.
func (r *Registry) release(e *Entry) {
	closer, ok := e.handle.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		r.logger.Warn("failed to release observer",
			slog.String("key", e.key),
			slog.String("error", err.Error()))
	}
}

// publishLocked stores a new immutable snapshot. Must be called with mu held.
func (r *Registry) publishLocked() {
	snap := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snap = append(snap, e)
	}
	sort.Slice(snap, func(i, j int) bool {
		return snap[i].key < snap[j].key
	})
	r.snapshot.Store(&snap)
}
