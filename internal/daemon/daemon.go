package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/anythingd/internal/config"
	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/fanout"
	"github.com/Aman-CERP/anythingd/internal/lifecycle"
	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/plugin"
	"github.com/Aman-CERP/anythingd/internal/registry"
	"github.com/Aman-CERP/anythingd/internal/watcher"
)

// ErrRelayDisabled is returned by Relay when the relay is switched off.
var ErrRelayDisabled = errors.New("mount relay is disabled")

// Daemon composes the observer service.
type Daemon struct {
	cfg    Config
	app    *config.Config
	logger *slog.Logger

	lock    *InstanceLock
	pidFile *PIDFile
	server  *Server

	registry   *registry.Registry
	fanout     *fanout.Fanout
	loader     *plugin.Loader
	controller *lifecycle.Controller
	watcher    watcher.Watcher

	relay      *mountinfo.Relay
	relayRetry aerrors.RetryConfig
	relayRunMu sync.Mutex
	relayMu    sync.RWMutex
	lastRelay  *mountinfo.Result

	started atomic.Bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// WithWatcher replaces the file system event source.
func WithWatcher(w watcher.Watcher) Option {
	return func(d *Daemon) {
		d.watcher = w
	}
}

// WithRelay replaces the mount relay built from the relay config section.
// Passing nil disables the relay.
func WithRelay(r *mountinfo.Relay) Option {
	return func(d *Daemon) {
		d.relay = r
	}
}

// WithRelayRetry sets the backoff used while the relay device is missing.
func WithRelayRetry(cfg aerrors.RetryConfig) Option {
	return func(d *Daemon) {
		d.relayRetry = cfg
	}
}

// NewDaemon builds a daemon from the application config. Nothing touches
// the file system until Start.
func NewDaemon(app *config.Config, opts ...Option) (*Daemon, error) {
	if app == nil {
		app = config.NewConfig()
	}
	if err := app.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := ConfigFrom(app)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		app:        app,
		logger:     slog.Default(),
		lock:       NewInstanceLock(cfg.LockPath),
		pidFile:    NewPIDFile(cfg.PIDPath),
		relayRetry: aerrors.DefaultRetryConfig(),
	}
	if app.Relay.Enabled {
		d.relay = mountinfo.New(nil)
		if app.Relay.MountinfoPath != "" {
			d.relay.SourcePath = app.Relay.MountinfoPath
		}
		if app.Relay.DevicePath != "" {
			d.relay.DevicePath = app.Relay.DevicePath
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.relay != nil && d.relay.Logger == nil {
		d.relay.Logger = d.logger
	}

	d.registry = registry.New(registry.Options{
		DrainTimeout: app.Observers.DrainTimeoutDuration(),
		Logger:       d.logger,
	})
	d.fanout = fanout.New(d.registry, d.logger)

	loader, err := plugin.NewLoader(plugin.Options{
		Dir:      app.Plugins.Dir,
		Debounce: app.Plugins.ReloadDebounceDuration(),
		Logger:   d.logger,
	})
	if err != nil {
		return nil, err
	}
	d.loader = loader
	d.controller = lifecycle.NewController(loader, loader, d.registry, d.logger)

	server, err := NewServer(cfg.SocketPath, d.logger)
	if err != nil {
		return nil, err
	}
	server.SetHandler(d)
	d.server = server

	return d, nil
}

// Start runs the service until ctx is cancelled or a component fails.
// The startup order is: instance lock, PID file, mount relay, observers
// from the plugin directory, plugin change handling, event source, RPC
// server. On return every observer has been removed through the normal
// drain path. Start may be called only once per Daemon.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return aerrors.New(aerrors.ErrCodeInternal, "daemon already started", nil)
	}
	if err := d.cfg.EnsureDir(); err != nil {
		return aerrors.New(aerrors.ErrCodeInternal, "prepare runtime directory", err)
	}

	acquired, err := d.lock.TryLock()
	if err != nil {
		return aerrors.New(aerrors.ErrCodeInternal, "acquire instance lock", err)
	}
	if !acquired {
		return aerrors.New(aerrors.ErrCodeAlreadyRunning, "anythingd is already running", nil).
			WithDetail("lock", d.lock.Path()).
			WithSuggestion("Run 'anythingd status' to inspect the running instance")
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release instance lock", slog.String("error", err.Error()))
		}
	}()

	if err := d.pidFile.Write(); err != nil {
		return aerrors.New(aerrors.ErrCodeInternal, "write PID file", err)
	}
	defer func() {
		if err := d.pidFile.RemoveIfOwned(); err != nil {
			d.logger.Warn("failed to remove PID file", slog.String("error", err.Error()))
		}
	}()

	if d.watcher == nil {
		w, err := watcher.NewHybridWatcher(watcher.Options{
			Exclude:         d.app.Watch.Exclude,
			PollInterval:    d.app.Watch.PollIntervalDuration(),
			EventBufferSize: d.app.Watch.BufferSize,
			ForcePolling:    d.app.Watch.ForcePolling,
			Logger:          d.logger,
		})
		if err != nil {
			return err
		}
		d.watcher = w
	}

	d.logger.Info("daemon starting",
		slog.String("socket", d.cfg.SocketPath),
		slog.Any("roots", d.app.Watch.Paths),
		slog.String("plugin_dir", d.loader.Dir()))

	g, gctx := errgroup.WithContext(ctx)

	if d.relay != nil {
		d.startRelay(gctx, g)
	}

	manifests, loadErrs := d.loader.Load()
	for _, err := range loadErrs {
		d.logger.Warn("plugin manifest skipped", aerrors.LogAttrs(err)...)
	}
	d.logger.Info("plugins loaded", slog.Int("manifests", manifests))
	d.controller.Start()

	if d.app.Plugins.HotReload {
		g.Go(func() error {
			if err := d.loader.Watch(gctx); err != nil {
				d.logger.Warn("plugin hot reload unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
		g.Go(func() error {
			return d.controller.Run(gctx, d.loader.Notifications())
		})
	}

	w := d.watcher
	g.Go(func() error {
		return d.fanout.Run(gctx, w.Events())
	})
	g.Go(func() error {
		d.logWatcherErrors(gctx, w.Errors())
		return nil
	})
	g.Go(func() error {
		if err := w.Start(gctx, d.app.Watch.Paths); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event source: %w", err)
		}
		return gctx.Err()
	})
	g.Go(func() error {
		return d.server.ListenAndServe(gctx)
	})

	err = g.Wait()
	d.shutdown()
	return err
}

// shutdown removes every observer and stops the event source.
func (d *Daemon) shutdown() {
	d.logger.Info("daemon stopping", slog.Int("observers", d.registry.Len()))

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := d.registry.RemoveAll(ctx); err != nil {
		d.logger.Warn("observers did not stop cleanly", aerrors.LogAttrs(err)...)
	}
	if err := d.watcher.Stop(); err != nil {
		d.logger.Warn("failed to stop event source", slog.String("error", err.Error()))
	}
}

func (d *Daemon) logWatcherErrors(ctx context.Context, ch <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-ch:
			if !ok {
				return
			}
			d.logger.Warn("event source error", slog.String("error", err.Error()))
		}
	}
}

// startRelay runs the relay once. A missing device is retried in the
// background when configured, since the monitor may load after us.
func (d *Daemon) startRelay(ctx context.Context, g *errgroup.Group) {
	_, err := d.runRelay()
	if err == nil {
		return
	}
	d.logger.Warn("mount relay failed, try again later", aerrors.LogAttrs(err)...)

	if !d.app.Relay.RetryDevice || !aerrors.IsRetryable(err) {
		return
	}
	g.Go(func() error {
		err := aerrors.Retry(ctx, d.relayRetry, func() error {
			_, err := d.runRelay()
			return err
		})
		switch {
		case err == nil:
			d.logger.Info("mount relay succeeded on retry")
		case ctx.Err() != nil:
		default:
			d.logger.Warn("mount relay gave up", aerrors.LogAttrs(err)...)
		}
		return nil
	})
}

// runRelay performs one relay and records its result.
func (d *Daemon) runRelay() (mountinfo.Result, error) {
	d.relayRunMu.Lock()
	defer d.relayRunMu.Unlock()

	result, err := d.relay.RunResult()
	d.relayMu.Lock()
	d.lastRelay = &result
	d.relayMu.Unlock()
	return result, err
}

// Status implements RequestHandler.
func (d *Daemon) Status() StatusResult {
	status := StatusResult{
		Observers: d.registry.Len(),
		Events:    d.fanout.Stats(),
		Roots:     d.app.Watch.Paths,
		PluginDir: d.loader.Dir(),
	}
	if w, ok := d.watcher.(interface{ WatcherType() string }); ok {
		status.WatcherType = w.WatcherType()
	}
	if w, ok := d.watcher.(interface{ Dropped() uint64 }); ok {
		status.WatcherDropped = w.Dropped()
	}
	if w, ok := d.watcher.(interface{ Roots() []string }); ok {
		if roots := w.Roots(); len(roots) > 0 {
			status.Roots = roots
		}
	}

	d.relayMu.RLock()
	if d.lastRelay != nil {
		r := *d.lastRelay
		status.Relay = &r
	}
	d.relayMu.RUnlock()
	return status
}

// Observers implements RequestHandler.
func (d *Daemon) Observers() []registry.EntryInfo {
	return d.registry.Info()
}

// Relay implements RequestHandler by running the relay again.
func (d *Daemon) Relay() (mountinfo.Result, error) {
	if d.relay == nil {
		return mountinfo.Result{}, ErrRelayDisabled
	}
	return d.runRelay()
}

// Registry exposes the observer registry.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}
