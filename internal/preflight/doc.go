// Package preflight checks that the host can run the observer service
// before it is started.
//
// The package validates:
//   - Free disk space under the runtime directory
//   - Write permission to the runtime directory
//   - File descriptor and inotify watch limits
//   - The configured watch roots and plugin manifests
//   - The mount relay source and device
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
