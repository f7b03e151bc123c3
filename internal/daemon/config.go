// Package daemon runs the observer service: it owns the single-instance
// lock, wires the event source to the observer registry, and answers status
// queries on a Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/anythingd/internal/config"
)

// Config holds the process-level settings of the daemon.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.anythingd/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.anythingd/daemon.pid
	PIDPath string

	// LockPath guards against a second daemon.
	// Default: ~/.anythingd/daemon.lock
	LockPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 5s
	Timeout time.Duration

	// ShutdownGracePeriod bounds how long shutdown waits for observers to
	// drain when the per-observer drain timeout is unbounded.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	base := config.BaseDir()
	return Config{
		SocketPath:          filepath.Join(base, "daemon.sock"),
		PIDPath:             filepath.Join(base, "daemon.pid"),
		LockPath:            filepath.Join(base, "daemon.lock"),
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// ConfigFrom takes the daemon section of the application config and fills
// anything left empty from DefaultConfig.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.Daemon.SocketPath != "" {
		c.SocketPath = cfg.Daemon.SocketPath
	}
	if cfg.Daemon.PIDPath != "" {
		c.PIDPath = cfg.Daemon.PIDPath
	}
	if cfg.Daemon.LockPath != "" {
		c.LockPath = cfg.Daemon.LockPath
	}
	return c
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket, PID and lock files.
func (c Config) EnsureDir() error {
	seen := make(map[string]bool, 3)
	for _, p := range []string{c.SocketPath, c.PIDPath, c.LockPath} {
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
