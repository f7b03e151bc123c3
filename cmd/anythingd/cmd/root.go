// Package cmd provides the CLI commands for anythingd.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/anythingd/internal/config"
	"github.com/Aman-CERP/anythingd/internal/logging"
	"github.com/Aman-CERP/anythingd/pkg/version"
)

// Global flags
var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the anythingd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anythingd",
		Short: "File change observer service",
		Long: `anythingd watches directories for files being created, deleted and
renamed, and delivers each change to every registered observer.

Observers are declared in YAML manifests in the plugin directory and are
added, replaced and removed as the manifests change.

Run 'anythingd run' to start the service in the foreground.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("anythingd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/anythingd/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newObserversCmd())
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging sends debug logs to stderr for the short-lived commands.
// The run command sets up its own file logging.
func startLogging(cmd *cobra.Command, _ []string) error {
	if !debugMode || cmd.Name() == "run" {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         "debug",
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("command", cmd.CommandPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
