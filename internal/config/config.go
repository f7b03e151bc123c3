package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
)

// Config represents the complete anythingd configuration.
type Config struct {
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Plugins   PluginsConfig   `yaml:"plugins" json:"plugins"`
	Observers ObserversConfig `yaml:"observers" json:"observers"`
	Relay     RelayConfig     `yaml:"relay" json:"relay"`
	Daemon    DaemonConfig    `yaml:"daemon" json:"daemon"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// WatchConfig configures the file system event source.
type WatchConfig struct {
	// Paths are the root directories watched recursively.
	Paths []string `yaml:"paths" json:"paths"`
	// Exclude lists glob patterns matched against each path segment.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// PollInterval is the scan interval when fsnotify is unavailable.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	// ForcePolling disables fsnotify.
	ForcePolling bool `yaml:"force_polling" json:"force_polling"`
	// BufferSize is the number of events held between the watcher and the
	// fanout. Events beyond it are dropped.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// PluginsConfig configures where observer manifests are loaded from.
type PluginsConfig struct {
	Dir string `yaml:"dir" json:"dir"`
	// HotReload watches Dir for manifest changes.
	HotReload bool `yaml:"hot_reload" json:"hot_reload"`
	// ReloadDebounce is how long a manifest must be quiet before it is reloaded.
	ReloadDebounce string `yaml:"reload_debounce" json:"reload_debounce"`
}

// ObserversConfig configures observer removal.
type ObserversConfig struct {
	// DrainTimeout bounds how long a removal waits for an observer to finish
	// its queued events. "0" waits until shutdown.
	DrainTimeout string `yaml:"drain_timeout" json:"drain_timeout"`
}

// RelayConfig configures the startup mount table relay.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	MountinfoPath string `yaml:"mountinfo_path" json:"mountinfo_path"`
	DevicePath    string `yaml:"device_path" json:"device_path"`
	// RetryDevice keeps retrying in the background when the device is not
	// there yet.
	RetryDevice bool `yaml:"retry_device" json:"retry_device"`
}

// DaemonConfig configures the background service files.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	LockPath   string `yaml:"lock_path" json:"lock_path"`
}

// LoggingConfig configures the service log.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// defaultExcludePatterns are excluded unless the config replaces the list.
var defaultExcludePatterns = []string{
	".git",
	".cache",
	"node_modules",
	"*.swp",
	"*~",
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	base := BaseDir()
	return &Config{
		Watch: WatchConfig{
			Paths:        []string{homeDir()},
			Exclude:      append([]string(nil), defaultExcludePatterns...),
			PollInterval: "5s",
			BufferSize:   1000,
		},
		Plugins: PluginsConfig{
			Dir:            filepath.Join(base, "plugins"),
			HotReload:      true,
			ReloadDebounce: "500ms",
		},
		Observers: ObserversConfig{
			DrainTimeout: "10s",
		},
		Relay: RelayConfig{
			Enabled:       true,
			MountinfoPath: "/proc/self/mountinfo",
			DevicePath:    "/dev/driver_set_info",
			RetryDevice:   true,
		},
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(base, "daemon.sock"),
			PIDPath:    filepath.Join(base, "daemon.pid"),
			LockPath:   filepath.Join(base, "daemon.lock"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(base, "logs", "anythingd.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// BaseDir returns ~/.anythingd, where runtime state lives.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Join(os.TempDir(), ".anythingd")
	}
	return filepath.Join(home, ".anythingd")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/anythingd/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/anythingd/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "anythingd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "anythingd", "config.yaml")
	}
	return filepath.Join(home, ".config", "anythingd", "config.yaml")
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. The YAML file at path, or the user config file when path is empty
//  3. Environment variables (ANYTHINGD_*)
//
// A missing user config file is fine; a missing explicit path is not.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = GetUserConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, aerrors.New(aerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file %s not found", path), err).
			WithDetail("path", path)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, aerrors.New(aerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid configuration: %v", err), err)
	}

	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the file
// keep their defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return aerrors.New(aerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read config file %s", path), err).
			WithDetail("path", path)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return aerrors.New(aerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies ANYTHINGD_* variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ANYTHINGD_WATCH_PATHS"); v != "" {
		c.Watch.Paths = filepath.SplitList(v)
	}
	if v := os.Getenv("ANYTHINGD_POLL_INTERVAL"); v != "" {
		c.Watch.PollInterval = v
	}
	if v := os.Getenv("ANYTHINGD_FORCE_POLLING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("ANYTHINGD_FORCE_POLLING", v, err)
		}
		c.Watch.ForcePolling = b
	}
	if v := os.Getenv("ANYTHINGD_PLUGIN_DIR"); v != "" {
		c.Plugins.Dir = v
	}
	if v := os.Getenv("ANYTHINGD_DRAIN_TIMEOUT"); v != "" {
		c.Observers.DrainTimeout = v
	}
	if v := os.Getenv("ANYTHINGD_RELAY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("ANYTHINGD_RELAY_ENABLED", v, err)
		}
		c.Relay.Enabled = b
	}
	if v := os.Getenv("ANYTHINGD_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("ANYTHINGD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func envError(name, value string, err error) error {
	return aerrors.New(aerrors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid value %q for %s", value, name), err).
		WithDetail("env", name)
}

// expandPaths resolves a leading "~/" in every path setting.
func (c *Config) expandPaths() {
	for i, p := range c.Watch.Paths {
		c.Watch.Paths[i] = ExpandHome(p)
	}
	c.Plugins.Dir = ExpandHome(c.Plugins.Dir)
	c.Daemon.SocketPath = ExpandHome(c.Daemon.SocketPath)
	c.Daemon.PIDPath = ExpandHome(c.Daemon.PIDPath)
	c.Daemon.LockPath = ExpandHome(c.Daemon.LockPath)
	c.Logging.File = ExpandHome(c.Logging.File)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if len(c.Watch.Paths) == 0 {
		return fmt.Errorf("watch.paths must not be empty")
	}
	for _, p := range c.Watch.Exclude {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("watch.exclude pattern %q is invalid: %w", p, err)
		}
	}
	if c.Watch.BufferSize <= 0 {
		return fmt.Errorf("watch.buffer_size must be positive, got %d", c.Watch.BufferSize)
	}
	if d, err := parseDuration(c.Watch.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("watch.poll_interval must be a positive duration, got %q", c.Watch.PollInterval)
	}

	if c.Plugins.Dir == "" {
		return fmt.Errorf("plugins.dir must be set")
	}
	if d, err := parseDuration(c.Plugins.ReloadDebounce); err != nil || d < 0 {
		return fmt.Errorf("plugins.reload_debounce must be a non-negative duration, got %q", c.Plugins.ReloadDebounce)
	}

	if d, err := parseDuration(c.Observers.DrainTimeout); err != nil || d < 0 {
		return fmt.Errorf("observers.drain_timeout must be a non-negative duration, got %q", c.Observers.DrainTimeout)
	}

	if c.Relay.Enabled && (c.Relay.MountinfoPath == "" || c.Relay.DevicePath == "") {
		return fmt.Errorf("relay.mountinfo_path and relay.device_path must be set when relay is enabled")
	}

	if c.Daemon.SocketPath == "" || c.Daemon.PIDPath == "" || c.Daemon.LockPath == "" {
		return fmt.Errorf("daemon.socket_path, daemon.pid_path and daemon.lock_path must be set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxFiles <= 0 {
		return fmt.Errorf("logging.max_files must be positive, got %d", c.Logging.MaxFiles)
	}

	return nil
}

// parseDuration accepts Go durations and a bare "0".
func parseDuration(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// PollIntervalDuration returns watch.poll_interval as a duration.
func (w WatchConfig) PollIntervalDuration() time.Duration {
	d, _ := parseDuration(w.PollInterval)
	return d
}

// ReloadDebounceDuration returns plugins.reload_debounce as a duration.
func (p PluginsConfig) ReloadDebounceDuration() time.Duration {
	d, _ := parseDuration(p.ReloadDebounce)
	return d
}

// DrainTimeoutDuration returns observers.drain_timeout as a duration.
// Zero means removal waits until shutdown.
func (o ObserversConfig) DrainTimeoutDuration() time.Duration {
	d, _ := parseDuration(o.DrainTimeout)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
