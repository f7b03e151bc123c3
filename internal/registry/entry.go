package registry

import (
	"sync/atomic"

	"github.com/Aman-CERP/anythingd/internal/observer"
)

// Entry is one live observer: its key, its handle and the executor that
// owns every call into the handle.
type Entry struct {
	key    string
	handle observer.Observer
	exec   *observer.Executor

	// attached is cleared once the entry is detached from event delivery.
	attached atomic.Bool
	// stuck is set when a Remove gave up waiting for the executor.
	stuck atomic.Bool
	// removal is the Remove in progress, if any. Guarded by Registry.mu.
	removal *removal
}

// removal is one attempt to take an entry out of the registry. done is
// closed once the attempt has either released the entry or given up, with
// err set in the latter case.
type removal struct {
	done chan struct{}
	err  error
}

// EntryInfo describes an entry for status reporting.
type EntryInfo struct {
	Key       string `json:"key"`
	Pending   int    `json:"pending"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Stopping  bool   `json:"stopping"`
	Stuck     bool   `json:"stuck"`
}

// Key returns the plugin key.
func (e *Entry) Key() string {
	return e.key
}

// Handle returns the observer handle.
func (e *Entry) Handle() observer.Observer {
	return e.handle
}

// Deliver queues ev on the entry's executor without waiting for it to run.
// Returns false if the entry no longer accepts events.
func (e *Entry) Deliver(ev observer.Event) bool {
	if !e.attached.Load() {
		return false
	}
	h := e.handle
	return e.exec.Submit(func() error {
		return ev.Apply(h)
	})
}

// Info returns the entry's current status.
func (e *Entry) Info() EntryInfo {
	return EntryInfo{
		Key:       e.key,
		Pending:   e.exec.Pending(),
		Processed: e.exec.Processed(),
		Failed:    e.exec.Failed(),
		Stopping:  e.exec.Stopped(),
		Stuck:     e.stuck.Load(),
	}
}
