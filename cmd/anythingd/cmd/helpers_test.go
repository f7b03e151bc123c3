package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// isolate points every default path at a temp home so tests never touch
// the real user's files.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, name := range []string{
		"ANYTHINGD_WATCH_PATHS", "ANYTHINGD_POLL_INTERVAL", "ANYTHINGD_FORCE_POLLING",
		"ANYTHINGD_PLUGIN_DIR", "ANYTHINGD_DRAIN_TIMEOUT", "ANYTHINGD_RELAY_ENABLED",
		"ANYTHINGD_SOCKET", "ANYTHINGD_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
	socket := filepath.Join("/tmp", fmt.Sprintf("anythingd-cmd-test-%d.sock", time.Now().UnixNano()))
	t.Setenv("ANYTHINGD_SOCKET", socket)
	t.Cleanup(func() { os.Remove(socket) })
	return home
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
