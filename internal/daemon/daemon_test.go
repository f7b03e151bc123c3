package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/anythingd/internal/config"
	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/observer"
	"github.com/Aman-CERP/anythingd/internal/observers"
)

// fakeWatcher is an event source driven by the test.
type fakeWatcher struct {
	events  chan observer.Event
	errors  chan error
	started chan struct{}
	once    sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events:  make(chan observer.Event, 16),
		errors:  make(chan error, 1),
		started: make(chan struct{}),
	}
}

func (f *fakeWatcher) Start(ctx context.Context, _ []string) error {
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeWatcher) Stop() error {
	f.once.Do(func() {
		close(f.events)
		close(f.errors)
	})
	return nil
}

func (f *fakeWatcher) Events() <-chan observer.Event { return f.events }

func (f *fakeWatcher) Errors() <-chan error { return f.errors }

func (f *fakeWatcher) WatcherType() string { return "fake" }

// daemonTestConfig creates an application config confined to temp paths.
func daemonTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tmp := t.TempDir()
	root := filepath.Join(tmp, "watch")
	require.NoError(t, os.MkdirAll(root, 0o755))

	socketPath := filepath.Join("/tmp", fmt.Sprintf("anythingd-daemon-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })

	app := config.NewConfig()
	app.Watch.Paths = []string{root}
	app.Plugins.Dir = filepath.Join(tmp, "plugins")
	app.Plugins.ReloadDebounce = "20ms"
	app.Observers.DrainTimeout = "2s"
	app.Relay.Enabled = false
	app.Daemon.SocketPath = socketPath
	app.Daemon.PIDPath = filepath.Join(tmp, "daemon.pid")
	app.Daemon.LockPath = filepath.Join(tmp, "daemon.lock")
	return app
}

// runDaemon starts d and returns a stop function that cancels it and
// returns Start's error.
func runDaemon(t *testing.T, d *Daemon, app *config.Config) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	client := NewClient(ConfigFrom(app))
	require.Eventually(t, client.IsRunning, 5*time.Second, 10*time.Millisecond, "daemon did not start")

	var once sync.Once
	var stopErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case stopErr = <-errCh:
			case <-time.After(5 * time.Second):
				t.Fatal("daemon did not stop")
			}
		})
		return stopErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func writePlugin(t *testing.T, app *config.Config, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(app.Plugins.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(app.Plugins.Dir, name), []byte(content), 0o644))
}

func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(daemonTestConfig(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.Nil(t, d.relay, "relay disabled in config")
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	// Given: a config without watch paths
	app := daemonTestConfig(t)
	app.Watch.Paths = nil

	// When: creating the daemon
	_, err := NewDaemon(app)

	// Then: validation fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewDaemon_RelayFromConfig(t *testing.T) {
	app := daemonTestConfig(t)
	app.Relay.Enabled = true
	app.Relay.MountinfoPath = "/tmp/mi"
	app.Relay.DevicePath = "/tmp/dev"

	d, err := NewDaemon(app, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, d.relay)
	assert.Equal(t, "/tmp/mi", d.relay.SourcePath)
	assert.Equal(t, "/tmp/dev", d.relay.DevicePath)
}

func TestDaemon_StartStop(t *testing.T) {
	// Given: a daemon on the real event source
	app := daemonTestConfig(t)
	d, err := NewDaemon(app, WithLogger(quietLogger()))
	require.NoError(t, err)

	// When: it runs
	stop := runDaemon(t, d, app)

	// Then: PID file, lock and socket are in place
	pf := NewPIDFile(app.Daemon.PIDPath)
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	held, err := NewInstanceLock(app.Daemon.LockPath).TryLock()
	require.NoError(t, err)
	assert.False(t, held, "lock should be held by the daemon")

	// When: it is stopped
	err = stop()

	// Then: cancellation is reported and everything is cleaned up
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, app.Daemon.PIDPath)
	_, err = os.Stat(app.Daemon.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed")

	other := NewInstanceLock(app.Daemon.LockPath)
	ok, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, ok, "lock should be released")
	require.NoError(t, other.Unlock())
}

func TestDaemon_SecondInstanceIsRefused(t *testing.T) {
	// Given: a running daemon
	app := daemonTestConfig(t)
	first, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	runDaemon(t, first, app)

	// When: a second daemon with the same lock starts
	second, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	err = second.Start(context.Background())

	// Then: it is refused and the first keeps its PID file
	require.Error(t, err)
	assert.Equal(t, aerrors.ErrCodeAlreadyRunning, aerrors.GetCode(err))
	assert.True(t, aerrors.IsFatal(err))
	assert.FileExists(t, app.Daemon.PIDPath)
	assert.True(t, NewClient(ConfigFrom(app)).IsRunning())
}

func TestDaemon_StartTwiceOnSameInstance(t *testing.T) {
	app := daemonTestConfig(t)
	d, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	runDaemon(t, d, app)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, aerrors.ErrCodeInternal, aerrors.GetCode(err))
	assert.Equal(t, 0, d.Registry().Len())
}

func TestDaemon_StalePIDFileIsReplaced(t *testing.T) {
	app := daemonTestConfig(t)
	require.NoError(t, os.WriteFile(app.Daemon.PIDPath, []byte("4194304"), 0o644))

	d, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	runDaemon(t, d, app)

	pid, err := NewPIDFile(app.Daemon.PIDPath).Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestDaemon_BadWatchRootStopsStartup(t *testing.T) {
	// Given: a watch root that does not exist
	app := daemonTestConfig(t)
	app.Watch.Paths = []string{filepath.Join(t.TempDir(), "missing")}
	d, err := NewDaemon(app, WithLogger(quietLogger()))
	require.NoError(t, err)

	// When: starting
	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()

	// Then: Start returns the event source failure
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event source")
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not fail")
	}
	assert.NoFileExists(t, app.Daemon.PIDPath)
}

func TestDaemon_DeliversEventsToPluginObservers(t *testing.T) {
	// Given: a journal observer declared before startup
	app := daemonTestConfig(t)
	journalPath := filepath.Join(t.TempDir(), "events.db")
	writePlugin(t, app, "audit.yaml", fmt.Sprintf(`
observers:
  - key: audit
    kind: journal
    options:
      path: %s
`, journalPath))

	source := newFakeWatcher()
	d, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(source))
	require.NoError(t, err)
	stop := runDaemon(t, d, app)
	client := NewClient(ConfigFrom(app))
	ctx := context.Background()

	// Then: the observer is registered at startup
	infos, err := client.Observers(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "audit", infos[0].Key)

	// When: the source reports three events
	<-source.started
	source.events <- observer.Event{Kind: observer.Created, Path: "/w/a"}
	source.events <- observer.Event{Kind: observer.Renamed, OldPath: "/w/a", Path: "/w/b"}
	source.events <- observer.Event{Kind: observer.Deleted, Path: "/w/b"}

	// Then: all three are processed
	require.Eventually(t, func() bool {
		infos, err := client.Observers(ctx, "audit")
		return err == nil && len(infos) == 1 && infos[0].Processed == 3
	}, 5*time.Second, 20*time.Millisecond)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Observers)
	assert.Equal(t, uint64(3), status.Events.Received)
	assert.Equal(t, uint64(3), status.Events.Delivered)
	assert.Equal(t, "fake", status.WatcherType)
	assert.Nil(t, status.Relay)

	// When: the daemon stops
	require.ErrorIs(t, stop(), context.Canceled)

	// Then: the observer was drained and released, and its journal is complete
	assert.Equal(t, 0, d.Registry().Len())
	j, err := observers.OpenJournal(journalPath, quietLogger())
	require.NoError(t, err)
	defer j.Close()
	n, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDaemon_HotReloadAddsAndRemovesObservers(t *testing.T) {
	// Given: a running daemon with an empty plugin directory
	app := daemonTestConfig(t)
	d, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	runDaemon(t, d, app)
	// Give the plugin watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// When: a manifest with two observers appears
	writePlugin(t, app, "p.yaml", "observers:\n  - {key: one, kind: recent}\n  - {key: two, kind: log}\n")

	// Then: both are registered
	require.Eventually(t, func() bool {
		return len(d.Registry().Keys()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, d.Registry().Keys())

	// When: the manifest is rewritten with one observer
	writePlugin(t, app, "p.yaml", "observers:\n  - {key: three, kind: recent}\n")

	// Then: the old keys are replaced
	require.Eventually(t, func() bool {
		keys := d.Registry().Keys()
		return len(keys) == 1 && keys[0] == "three"
	}, 5*time.Second, 20*time.Millisecond)

	// When: the manifest is deleted
	require.NoError(t, os.Remove(filepath.Join(app.Plugins.Dir, "p.yaml")))

	// Then: nothing is registered
	require.Eventually(t, func() bool {
		return d.Registry().Len() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_RelayRetriesUntilDeviceAppears(t *testing.T) {
	// Given: a relay whose device does not exist yet
	app := daemonTestConfig(t)
	app.Relay.RetryDevice = true
	dir := t.TempDir()
	src := filepath.Join(dir, "mountinfo")
	dev := filepath.Join(dir, "device")
	require.NoError(t, os.WriteFile(src, []byte("22 1 8:1 / / rw - ext4 /dev/sda1 rw\n"), 0o644))

	relay := &mountinfo.Relay{
		SourcePath: src,
		DevicePath: dev,
		Release:    func() (string, error) { return "6.1.0", nil },
		Logger:     quietLogger(),
	}
	d, err := NewDaemon(app,
		WithLogger(quietLogger()),
		WithWatcher(newFakeWatcher()),
		WithRelay(relay),
		WithRelayRetry(aerrors.RetryConfig{
			MaxRetries:   200,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   1,
		}))
	require.NoError(t, err)
	runDaemon(t, d, app)
	client := NewClient(ConfigFrom(app))
	ctx := context.Background()

	// Then: the first attempt is reported as a device failure
	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Relay)
	assert.Equal(t, "OpenDstFileFail", status.Relay.Status)

	// When: the device appears
	require.NoError(t, os.WriteFile(dev, nil, 0o644))

	// Then: a retry copies the mount table
	require.Eventually(t, func() bool {
		status, err := client.Status(ctx)
		return err == nil && status.Relay != nil && status.Relay.Status == "Success"
	}, 5*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(dev)
	require.NoError(t, err)
	assert.Equal(t, "22 1 8:1 / / rw - ext4 /dev/sda1 rw\n", string(data))

	// And an explicit relay request runs it again
	result, err := client.Relay(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(data), result.BytesWritten)
}

func TestDaemon_RelayDisabled(t *testing.T) {
	app := daemonTestConfig(t)
	d, err := NewDaemon(app, WithLogger(quietLogger()), WithWatcher(newFakeWatcher()))
	require.NoError(t, err)
	runDaemon(t, d, app)

	_, err = NewClient(ConfigFrom(app)).Relay(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, rpcErr.Msg, "disabled")
}
