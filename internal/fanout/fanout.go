// Package fanout forwards filesystem events to every registered observer.
//
// Delivery is asynchronous: an ingress call only enqueues the event on each
// observer's executor and returns. A slow observer delays nobody but
// itself. Events reach a single observer in the order they were received;
// there is no ordering across observers.
package fanout

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Aman-CERP/anythingd/internal/observer"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

// Source provides the current set of observers to dispatch against.
type Source interface {
	Snapshot() []*registry.Entry
}

// Fanout dispatches events to a registry snapshot.
type Fanout struct {
	source Source
	logger *slog.Logger

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Fanout reading observers from source.
func New(source Source, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		source: source,
		logger: logger,
	}
}

// OnCreated forwards a create event.
func (f *Fanout) OnCreated(path string) {
	f.Dispatch(observer.Event{Kind: observer.Created, Path: path})
}

// OnDeleted forwards a delete event.
func (f *Fanout) OnDeleted(path string) {
	f.Dispatch(observer.Event{Kind: observer.Deleted, Path: path})
}

// OnRenamed forwards a rename event.
func (f *Fanout) OnRenamed(oldPath, newPath string) {
	f.Dispatch(observer.Event{Kind: observer.Renamed, OldPath: oldPath, Path: newPath})
}

// Dispatch enqueues ev on every observer in the current snapshot.
// Observers that are being removed refuse the event; those refusals are
// counted as dropped.
func (f *Fanout) Dispatch(ev observer.Event) {
	f.received.Add(1)
	for _, e := range f.source.Snapshot() {
		if e.Deliver(ev) {
			f.delivered.Add(1)
		} else {
			f.dropped.Add(1)
		}
	}
}

// Run dispatches events from ch until ctx is done or ch is closed.
func (f *Fanout) Run(ctx context.Context, ch <-chan observer.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				f.logger.Debug("event source closed")
				return nil
			}
			f.Dispatch(ev)
		}
	}
}

// Stats reports dispatch counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the dispatch counters.
func (f *Fanout) Stats() Stats {
	return Stats{
		Received:  f.received.Load(),
		Delivered: f.delivered.Load(),
		Dropped:   f.dropped.Load(),
	}
}
