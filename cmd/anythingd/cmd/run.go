package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/anythingd/internal/config"
	"github.com/Aman-CERP/anythingd/internal/daemon"
	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/logging"
	"github.com/Aman-CERP/anythingd/internal/output"
	"github.com/Aman-CERP/anythingd/internal/profiling"
)

type runOptions struct {
	watch     []string
	pluginDir string
	noRelay   bool
	polling   bool
	profile   string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the observer service in the foreground",
		Long: `Run the observer service until interrupted.

On startup the service copies the mount table to the kernel monitor device
(kernels 5.10 and newer), registers every observer declared in the plugin
directory, and then starts watching. SIGINT or SIGTERM stops it after every
observer has finished its queued events.

Only one instance runs per lock file.`,
		Example: `  # Run with the user configuration
  anythingd run

  # Watch a specific directory without the mount relay
  anythingd run --watch ~/src --no-relay`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runService(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.watch, "watch", "w", nil, "Directories to watch (overrides watch.paths)")
	cmd.Flags().StringVar(&opts.pluginDir, "plugin-dir", "", "Observer manifest directory (overrides plugins.dir)")
	cmd.Flags().BoolVar(&opts.noRelay, "no-relay", false, "Skip the startup mount relay")
	cmd.Flags().BoolVar(&opts.polling, "poll", false, "Use polling instead of fsnotify")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "Write CPU, heap and goroutine profiles to this directory")

	return cmd
}

// applyRunFlags applies command line overrides to cfg.
func applyRunFlags(cfg *config.Config, opts runOptions) error {
	if len(opts.watch) > 0 {
		cfg.Watch.Paths = make([]string, len(opts.watch))
		for i, p := range opts.watch {
			cfg.Watch.Paths[i] = config.ExpandHome(p)
		}
	}
	if opts.pluginDir != "" {
		cfg.Plugins.Dir = config.ExpandHome(opts.pluginDir)
	}
	if opts.noRelay {
		cfg.Relay.Enabled = false
	}
	if opts.polling {
		cfg.Watch.ForcePolling = true
	}
	if err := cfg.Validate(); err != nil {
		return aerrors.New(aerrors.ErrCodeConfigInvalid, err.Error(), err)
	}
	return nil
}

func runService(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, opts); err != nil {
		return err
	}

	client := daemon.NewClient(daemon.ConfigFrom(cfg))
	if client.IsRunning() {
		return aerrors.New(aerrors.ErrCodeAlreadyRunning, "anythingd is already running", nil).
			WithDetail("socket", cfg.Daemon.SocketPath).
			WithSuggestion("Run 'anythingd status' to inspect it")
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr || debugMode,
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	d, err := daemon.NewDaemon(cfg, daemon.WithLogger(logger))
	if err != nil {
		return err
	}

	if opts.profile != "" {
		session, err := profiling.Start(config.ExpandHome(opts.profile))
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Stop(); err != nil {
				logger.Warn("failed to write profiles", slog.String("error", err.Error()))
				return
			}
			logger.Info("profiles written", slog.String("dir", session.Dir()))
		}()
	}

	out.Status("", "Starting anythingd...")
	out.Field("Watching", fmt.Sprint(cfg.Watch.Paths))
	out.Field("Plugins", cfg.Plugins.Dir)
	out.Field("Socket", cfg.Daemon.SocketPath)
	out.Field("Logs", cfg.Logging.File)
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	err = d.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("daemon stopped")
		out.Success("Stopped")
		return nil
	}
	if err != nil {
		logger.Error("daemon failed", aerrors.LogAttrs(err)...)
	}
	return err
}
