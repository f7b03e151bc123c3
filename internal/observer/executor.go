package observer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is a unit of work run on an Executor.
type Task func() error

// Executor runs tasks sequentially on a dedicated goroutine.
type Executor struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Task
	stopped bool

	// wake has capacity one so a producer never blocks and a signal sent
	// while the worker is busy is not lost.
	wake chan struct{}
	done chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewExecutor starts an executor whose log lines carry name.
func NewExecutor(name string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Submit enqueues task without blocking.
// Returns false if the executor has been stopped; the task is not run.
func (e *Executor) Submit(task Task) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	e.signal()
	return true
}

// Stop refuses further work. Tasks already queued still run, after which
// the worker exits. Safe to call multiple times.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.signal()
}

// Stopped reports whether Stop has been called.
func (e *Executor) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Wait blocks until the worker has exited or ctx is done.
// The worker only exits after Stop, once the queue is empty.
func (e *Executor) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Pending returns the number of queued tasks not yet started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Processed returns the number of tasks run, including failed ones.
func (e *Executor) Processed() uint64 {
	return e.processed.Load()
}

// Failed returns the number of tasks that returned an error or panicked.
func (e *Executor) Failed() uint64 {
	return e.failed.Load()
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			stopped := e.stopped
			e.mu.Unlock()
			if stopped {
				return
			}
			<-e.wake
			continue
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.execute(task)
	}
}

// execute runs one task. A failing or panicking observer is logged and
// counted; the worker keeps going.
func (e *Executor) execute(task Task) {
	defer e.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.failed.Add(1)
			e.logger.Error("observer callback panicked",
				slog.String("observer", e.name),
				slog.Any("panic", r))
		}
	}()

	if err := task(); err != nil {
		e.failed.Add(1)
		e.logger.Warn("observer callback failed",
			slog.String("observer", e.name),
			slog.String("error", err.Error()))
	}
}
