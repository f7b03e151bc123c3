package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/anythingd/internal/observer"
)

func testOptions() Options {
	return Options{
		EventBufferSize: 100,
		RenameWindow:    50 * time.Millisecond,
		PollInterval:    50 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startWatcher runs w over roots and waits for it to settle.
func startWatcher(t *testing.T, w *HybridWatcher, roots ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, roots)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
		<-done
	})
	// Wait for watcher to be ready
	time.Sleep(150 * time.Millisecond)
}

// waitFor reads events until one satisfies match.
func waitFor(t *testing.T, w *HybridWatcher, match func(observer.Event) bool) observer.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			if match(ev) {
				return ev
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestHybridWatcher_NewHybridWatcher(t *testing.T) {
	// Given: default options
	opts := DefaultOptions()

	// When: creating a hybrid watcher
	w, err := NewHybridWatcher(opts)

	// Then: no error and watcher is valid
	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
	assert.True(t, w.IsHealthy())
}

func TestHybridWatcher_InvalidExclude(t *testing.T) {
	_, err := NewHybridWatcher(Options{Exclude: []string{"["}})
	assert.Error(t, err)
}

func TestHybridWatcher_Start_InvalidRoot(t *testing.T) {
	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), []string{"/nonexistent/path/that/does/not/exist"})
	assert.Error(t, err)

	err = w.Start(context.Background(), nil)
	assert.Error(t, err)
}

func TestHybridWatcher_DetectsFileCreation(t *testing.T) {
	// Given: a watched temp directory
	dir := t.TempDir()
	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	startWatcher(t, w, dir)

	// When: a new file is created
	path := filepath.Join(dir, "newfile.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	// Then: a Created event with the absolute path arrives
	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == path })
	assert.Equal(t, observer.Created, ev.Kind)
}

func TestHybridWatcher_DetectsFileDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "todelete.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	startWatcher(t, w, dir)

	require.NoError(t, os.Remove(path))

	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == path })
	assert.Equal(t, observer.Deleted, ev.Kind)
}

func TestHybridWatcher_PairsRename(t *testing.T) {
	// Given: a file inside a watched directory
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "before.txt")
	newPath := filepath.Join(dir, "after.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))

	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	if w.WatcherType() != "fsnotify" {
		t.Skip("rename pairing needs fsnotify")
	}
	startWatcher(t, w, dir)

	// When: it is renamed within the directory
	require.NoError(t, os.Rename(oldPath, newPath))

	// Then: a single Renamed event carries both paths
	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == newPath || e.Path == oldPath })
	assert.Equal(t, observer.Renamed, ev.Kind)
	assert.Equal(t, oldPath, ev.OldPath)
	assert.Equal(t, newPath, ev.Path)
}

func TestHybridWatcher_RenameOutOfRootIsDelete(t *testing.T) {
	// Given: a file in a watched directory and an unwatched destination
	dir := t.TempDir()
	outside := t.TempDir()
	oldPath := filepath.Join(dir, "leaving.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))

	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	if w.WatcherType() != "fsnotify" {
		t.Skip("rename pairing needs fsnotify")
	}
	startWatcher(t, w, dir)

	// When: it is moved out
	require.NoError(t, os.Rename(oldPath, filepath.Join(outside, "leaving.txt")))

	// Then: after the pairing window it is reported deleted
	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == oldPath })
	assert.Equal(t, observer.Deleted, ev.Kind)
}

func TestHybridWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	startWatcher(t, w, dir)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitFor(t, w, func(e observer.Event) bool { return e.Path == sub && e.Kind == observer.Created })

	// Give the watcher time to add the new directory
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(sub, "nested.txt")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))

	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == nested })
	assert.Equal(t, observer.Created, ev.Kind)
}

func TestHybridWatcher_IgnoresWritesAndExcluded(t *testing.T) {
	// Given: an existing file and an exclude pattern
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("a"), 0o644))

	opts := testOptions()
	opts.Exclude = []string{"*.swp"}
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	startWatcher(t, w, dir)

	// When: the file is rewritten, an excluded file appears, then a marker
	require.NoError(t, os.WriteFile(existing, []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".existing.txt.swp"), []byte("x"), 0o644))
	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	// Then: the marker is the first event seen
	select {
	case ev := <-w.Events():
		assert.Equal(t, marker, ev.Path)
		assert.Equal(t, observer.Created, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for marker")
	}
}

func TestHybridWatcher_MultipleRoots(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)
	startWatcher(t, w, a, b)

	assert.ElementsMatch(t, []string{a, b}, w.Roots())

	pb := filepath.Join(b, "inb")
	require.NoError(t, os.WriteFile(pb, []byte("x"), 0o644))
	waitFor(t, w, func(e observer.Event) bool { return e.Path == pb })
}

func TestHybridWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewHybridWatcher(testOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsHealthy())

	_, ok := <-w.Events()
	assert.False(t, ok, "events channel closed after stop")
}

func TestHybridWatcher_DropsWhenFull(t *testing.T) {
	opts := testOptions()
	opts.EventBufferSize = 1
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	w.emit(observer.Event{Kind: observer.Created, Path: "/a"})
	w.emit(observer.Event{Kind: observer.Created, Path: "/b"})
	w.emit(observer.Event{Kind: observer.Created, Path: "/c"})

	assert.Equal(t, uint64(2), w.Dropped())
	assert.Equal(t, "/a", (<-w.Events()).Path)
}

func TestHybridWatcher_ForcePolling(t *testing.T) {
	// Given: a watcher forced into polling mode
	dir := t.TempDir()
	opts := testOptions()
	opts.ForcePolling = true
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	assert.Equal(t, "polling", w.WatcherType())
	startWatcher(t, w, dir)

	// When: a file is created
	path := filepath.Join(dir, "polled.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// Then: the polling scan reports it
	ev := waitFor(t, w, func(e observer.Event) bool { return e.Path == path })
	assert.Equal(t, observer.Created, ev.Kind)
}
