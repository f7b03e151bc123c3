package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/anythingd/internal/config"
	"github.com/Aman-CERP/anythingd/internal/daemon"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

// startService runs an in-process daemon from the config file at path and
// stops it when the test ends.
func startService(t *testing.T, path string) {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)

	d, err := daemon.NewDaemon(cfg, daemon.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	client := daemon.NewClient(daemon.ConfigFrom(cfg))
	require.Eventually(t, client.IsRunning, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected stop error: %v", err)
		case <-time.After(10 * time.Second):
			t.Error("service did not stop")
		}
	})
}

// serviceConfig writes a config file with one recent observer plugin and
// returns its path.
func serviceConfig(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	watchDir := filepath.Join(tmp, "watch")
	pluginDir := filepath.Join(tmp, "plugins")
	require.NoError(t, os.MkdirAll(watchDir, 0o755))
	writeFile(t, filepath.Join(pluginDir, "recent.yaml"),
		"observers:\n  - key: recent-a\n    kind: recent\n    options:\n      size: 8\n")

	socket := filepath.Join("/tmp", fmt.Sprintf("anythingd-cmd-svc-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socket) })
	t.Setenv("ANYTHINGD_SOCKET", socket)

	path := filepath.Join(tmp, "config.yaml")
	writeFile(t, path, fmt.Sprintf(`watch:
  paths: [%q]
  force_polling: true
  poll_interval: 100ms
plugins:
  dir: %q
  hot_reload: false
relay:
  enabled: false
daemon:
  pid_path: %q
  lock_path: %q
logging:
  file: %q
`, watchDir, pluginDir,
		filepath.Join(tmp, "daemon.pid"),
		filepath.Join(tmp, "daemon.lock"),
		filepath.Join(tmp, "anythingd.log")))
	return path
}

func TestService_StatusAndObservers(t *testing.T) {
	// Given: a running service with one observer plugin
	isolate(t)
	path := serviceConfig(t)
	startService(t, path)

	// When: asking for status as JSON
	out, err := execute(t, "--config", path, "status", "--json")

	// Then: the service reports itself running with the observer
	require.NoError(t, err)
	var status daemon.StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, 1, status.Observers)
	assert.Equal(t, "polling", status.WatcherType)
	assert.Nil(t, status.Relay)

	// When: listing observers
	out, err = execute(t, "--config", path, "observers", "--json")

	// Then: the plugin's key is listed as live
	require.NoError(t, err)
	var infos []registry.EntryInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "recent-a", infos[0].Key)
	assert.False(t, infos[0].Stopping)

	// And: the text forms render
	out, err = execute(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "anythingd is running")
	assert.Contains(t, out, "disabled")

	out, err = execute(t, "--config", path, "observers")
	require.NoError(t, err)
	assert.Contains(t, out, "recent-a")
	assert.Contains(t, out, "live")
}

func TestService_RunRefusesSecondInstance(t *testing.T) {
	// Given: a running service
	isolate(t)
	path := serviceConfig(t)
	startService(t, path)

	// When: starting another through the CLI
	_, err := execute(t, "--config", path, "run")

	// Then: it is refused
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestService_RelayDisabled(t *testing.T) {
	isolate(t)
	path := serviceConfig(t)
	startService(t, path)

	_, err := execute(t, "--config", path, "relay", "--daemon")

	require.Error(t, err)
}
