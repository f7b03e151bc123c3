// Package observer defines the file-change observer contract and the
// sequential executor every registered observer runs on.
//
// An Executor is a single-consumer work queue fed by any number of
// producers. Submit never blocks; tasks run one at a time in submission
// order. Stop closes the queue to new work and lets the worker finish
// everything already queued, which is what the registry waits on before
// it releases an observer.
//
//	exec := observer.NewExecutor("journal", logger)
//	exec.Submit(func() error { return h.OnFileCreate("/tmp/a") })
//	exec.Stop()
//	if err := exec.Wait(ctx); err != nil {
//	    // still draining
//	}
package observer
