package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/observer"
	"github.com/Aman-CERP/anythingd/internal/plugin"
)

// Loader is the plugin loader the controller reacts to.
type Loader interface {
	// Keys returns every key currently exposed by loaded artifacts.
	Keys() []string
	// KeysFor returns the keys exposed by one artifact.
	KeysFor(ref plugin.Ref) []string
	// Reload re-reads an artifact and returns its new reference.
	Reload(ref plugin.Ref) (plugin.Ref, error)
	// RemoveLoader tells the loader an artifact's observers are gone and it
	// may be unloaded.
	RemoveLoader(ref plugin.Ref)
}

// Factory constructs observer handles by key.
type Factory interface {
	Create(key string) (observer.Observer, error)
}

// Registry is the observer registry the controller mutates.
type Registry interface {
	Add(key string, handle observer.Observer) error
	Remove(ctx context.Context, keys []string) error
}

// Controller turns loader notifications into registry mutations.
// It keeps no state of its own.
type Controller struct {
	loader   Loader
	factory  Factory
	registry Registry
	logger   *slog.Logger
}

// NewController creates a controller.
func NewController(loader Loader, factory Factory, registry Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		loader:   loader,
		factory:  factory,
		registry: registry,
		logger:   logger,
	}
}

// Start registers an observer for every key the loader currently exposes.
// Returns the number of observers added.
func (c *Controller) Start() int {
	added := 0
	for _, key := range c.loader.Keys() {
		if c.Added(key) == nil {
			added++
		}
	}
	c.logger.Info("observers initialized", slog.Int("count", added))
	return added
}

// Added creates and registers the observer for key.
// A construction failure is logged and no entry is created.
func (c *Controller) Added(key string) error {
	handle, err := c.factory.Create(key)
	if err == nil && handle == nil {
		err = fmt.Errorf("factory returned no handle")
	}
	if err != nil {
		aerr := aerrors.New(aerrors.ErrCodeConstructionFailed,
			fmt.Sprintf("cannot construct observer %q", key), err).
			WithDetail("key", key)
		c.logger.Warn("observer not created", aerrors.LogAttrs(aerr)...)
		return aerr
	}
	return c.registry.Add(key, handle)
}

// Removed unregisters keys and then lets the loader unload ref.
func (c *Controller) Removed(ctx context.Context, ref plugin.Ref, keys []string) error {
	err := c.registry.Remove(ctx, keys)
	c.loader.RemoveLoader(ref)
	return err
}

// Modified replaces the observers of a changed artifact: the old keys are
// removed, the artifact reloaded, and every key it now exposes is created
// afresh. If the reload fails the keys stay unregistered.
func (c *Controller) Modified(ctx context.Context, ref plugin.Ref, keys []string) error {
	removeErr := c.registry.Remove(ctx, keys)

	newRef, err := c.loader.Reload(ref)
	if err != nil {
		aerr := aerrors.New(aerrors.ErrCodeReloadFailed,
			fmt.Sprintf("reload of %s failed", ref), err).
			WithDetail("ref", string(ref))
		c.logger.Error("plugin reload failed, observers dropped", aerrors.LogAttrs(aerr)...)
		if removeErr != nil {
			return fmt.Errorf("%w; %w", removeErr, aerr)
		}
		return aerr
	}

	for _, key := range c.loader.KeysFor(newRef) {
		_ = c.Added(key)
	}
	return removeErr
}

// Handle applies one notification.
func (c *Controller) Handle(ctx context.Context, n plugin.Notification) error {
	c.logger.Debug("plugin notification",
		slog.String("kind", n.Kind.String()),
		slog.String("ref", string(n.Ref)),
		slog.Any("keys", n.Keys))

	switch n.Kind {
	case plugin.Added:
		var firstErr error
		for _, key := range n.Keys {
			if err := c.Added(key); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case plugin.Removed:
		return c.Removed(ctx, n.Ref, n.Keys)
	case plugin.Modified:
		return c.Modified(ctx, n.Ref, n.Keys)
	default:
		return fmt.Errorf("unknown notification kind %s", n.Kind)
	}
}

// Run handles notifications in arrival order until ctx is done or ch is
// closed. Failures are logged by Handle and never stop the loop.
func (c *Controller) Run(ctx context.Context, ch <-chan plugin.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			_ = c.Handle(ctx, n)
		}
	}
}
