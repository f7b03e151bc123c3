// Package watcher turns file system activity under a set of root
// directories into observer events.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, containers)
//
// Only creations, deletions and renames are reported. Content writes and
// attribute changes are dropped. A rename is reported once with both paths
// when the destination is also watched; a file moved out of every root is
// reported as deleted.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx, []string{"/home/user"})
//
//	for ev := range w.Events() {
//	    fmt.Println(ev.Kind, ev.Path)
//	}
package watcher
