package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a manifest must stay quiet before a change
// to it is acted on.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Loader.
type Options struct {
	// Dir holds the manifests. It is created if missing.
	Dir string

	// Debounce delays change handling per manifest. Default: DefaultDebounce.
	Debounce time.Duration

	Logger *slog.Logger
}

// Loader discovers observer manifests in a directory and reports changes
// to them. It also constructs observers by key (see Create).
type Loader struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	artifacts map[Ref][]string
	specs     map[string]ObserverSpec
	owners    map[string]Ref

	notify chan Notification

	// Serializes change handling so one manifest is never parsed twice at once.
	changeMu sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// NewLoader creates a loader for opts.Dir. Nothing is read until Load.
func NewLoader(opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve plugin dir: %w", err)
	}
	return &Loader{
		dir:       dir,
		debounce:  opts.Debounce,
		logger:    opts.Logger,
		artifacts: make(map[Ref][]string),
		specs:     make(map[string]ObserverSpec),
		owners:    make(map[string]Ref),
		notify:    make(chan Notification, 64),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Dir returns the absolute plugin directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads every manifest in the plugin directory. A manifest that fails
// to parse is skipped and its error returned alongside the others.
func (l *Loader) Load() (int, []error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return 0, []error{fmt.Errorf("create plugin dir: %w", err)}
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, []error{fmt.Errorf("read plugin dir: %w", err)}
	}

	var errs []error
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !IsManifest(e.Name()) {
			continue
		}
		ref := Ref(filepath.Join(l.dir, e.Name()))
		if _, err := l.load(ref); err != nil {
			l.logger.Warn("manifest skipped", slog.String("ref", string(ref)), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		loaded++
	}

	l.logger.Info("plugins loaded",
		slog.String("dir", l.dir),
		slog.Int("manifests", loaded),
		slog.Int("keys", len(l.Keys())))
	return loaded, errs
}

// load parses ref and records the keys it exposes. Keys already owned by
// another artifact are skipped.
func (l *Loader) load(ref Ref) ([]string, error) {
	m, err := ParseManifest(string(ref))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.forgetLocked(ref)

	keys := make([]string, 0, len(m.Observers))
	for _, spec := range m.Observers {
		if owner, taken := l.owners[spec.Key]; taken {
			l.logger.Warn("observer key already provided by another plugin",
				slog.String("key", spec.Key),
				slog.String("ref", string(ref)),
				slog.String("owner", string(owner)))
			continue
		}
		l.owners[spec.Key] = ref
		l.specs[spec.Key] = spec
		keys = append(keys, spec.Key)
	}
	sort.Strings(keys)
	l.artifacts[ref] = keys

	l.logger.Debug("manifest loaded", slog.String("ref", string(ref)), slog.Any("keys", keys))
	return append([]string(nil), keys...), nil
}

func (l *Loader) forgetLocked(ref Ref) {
	for _, key := range l.artifacts[ref] {
		delete(l.owners, key)
		delete(l.specs, key)
	}
	delete(l.artifacts, ref)
}

// Keys returns every key exposed by a loaded manifest, sorted.
func (l *Loader) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.owners))
	for key := range l.owners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// KeysFor returns the keys exposed by ref, sorted.
func (l *Loader) KeysFor(ref Ref) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.artifacts[ref]...)
}

// Refs returns the loaded manifests, sorted.
func (l *Loader) Refs() []Ref {
	l.mu.RLock()
	defer l.mu.RUnlock()

	refs := make([]Ref, 0, len(l.artifacts))
	for ref := range l.artifacts {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

func (l *Loader) has(ref Ref) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.artifacts[ref]
	return ok
}

// Reload re-reads ref. On failure the manifest is forgotten and its keys are
// no longer available. A manifest keeps its reference across reloads.
func (l *Loader) Reload(ref Ref) (Ref, error) {
	if _, err := l.load(ref); err != nil {
		l.RemoveLoader(ref)
		return "", err
	}
	return ref, nil
}

// RemoveLoader forgets ref and the keys it exposed.
func (l *Loader) RemoveLoader(ref Ref) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forgetLocked(ref)
}

// Notifications delivers change notifications produced by Watch.
func (l *Loader) Notifications() <-chan Notification {
	return l.notify
}

// Watch reports manifest changes on Notifications until ctx is done.
// A new manifest produces one Added per key, a rewritten one Modified, and a
// deleted or renamed one Removed.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch plugin dir: %w", err)
	}
	l.logger.Info("plugin hot reload enabled", slog.String("dir", l.dir))

	defer l.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleFSEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("plugin watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *Loader) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	if !IsManifest(event.Name) || event.Op == fsnotify.Chmod {
		return
	}

	path := event.Name
	l.timersMu.Lock()
	defer l.timersMu.Unlock()

	if timer, exists := l.timers[path]; exists {
		timer.Stop()
	}
	l.timers[path] = time.AfterFunc(l.debounce, func() {
		l.timersMu.Lock()
		delete(l.timers, path)
		l.timersMu.Unlock()

		if ctx.Err() == nil {
			l.processChange(ctx, Ref(path))
		}
	})
}

func (l *Loader) stopTimers() {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	for path, timer := range l.timers {
		timer.Stop()
		delete(l.timers, path)
	}
}

// processChange compares the manifest on disk with what is loaded.
func (l *Loader) processChange(ctx context.Context, ref Ref) {
	l.changeMu.Lock()
	defer l.changeMu.Unlock()

	_, statErr := os.Stat(string(ref))
	exists := statErr == nil
	known := l.has(ref)

	switch {
	case !exists && known:
		l.logger.Info("plugin removed", slog.String("ref", string(ref)))
		l.emit(ctx, Notification{Kind: Removed, Ref: ref, Keys: l.KeysFor(ref)})

	case exists && known:
		l.logger.Info("plugin modified", slog.String("ref", string(ref)))
		l.emit(ctx, Notification{Kind: Modified, Ref: ref, Keys: l.KeysFor(ref)})

	case exists:
		keys, err := l.load(ref)
		if err != nil {
			l.logger.Warn("new manifest skipped", slog.String("ref", string(ref)), slog.String("error", err.Error()))
			return
		}
		l.logger.Info("plugin added", slog.String("ref", string(ref)), slog.Any("keys", keys))
		for _, key := range keys {
			l.emit(ctx, Notification{Kind: Added, Ref: ref, Keys: []string{key}})
		}
	}
}

func (l *Loader) emit(ctx context.Context, n Notification) {
	select {
	case l.notify <- n:
	case <-ctx.Done():
	}
}
