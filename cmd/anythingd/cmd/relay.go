package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/output"
)

type relayOptions struct {
	viaDaemon  bool
	source     string
	device     string
	jsonOutput bool
}

func newRelayCmd() *cobra.Command {
	var opts relayOptions

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Copy the mount table to the kernel monitor device",
		Long: `Copy the mount table to the kernel monitor device once.

The service does this at startup; this command repeats it for diagnostics.
Kernels older than 5.10 do not need the relay and are skipped. The device is
never created: if it is missing the kernel monitor is not loaded.`,
		Example: `  # Relay from this process using the configured paths
  anythingd relay

  # Ask the running service to relay again
  anythingd relay --daemon`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.viaDaemon, "daemon", false, "Ask the running service to perform the relay")
	cmd.Flags().StringVar(&opts.source, "source", "", "Mount table path (overrides relay.mountinfo_path)")
	cmd.Flags().StringVar(&opts.device, "device", "", "Device path (overrides relay.device_path)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runRelay(ctx context.Context, cmd *cobra.Command, opts relayOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		result mountinfo.Result
		runErr error
	)
	if opts.viaDaemon {
		client, err := newClient()
		if err != nil {
			return err
		}
		if !client.IsRunning() {
			return fmt.Errorf("anythingd is not running")
		}
		result, runErr = client.Relay(ctx)
	} else {
		relay := mountinfo.New(slog.Default())
		if cfg.Relay.MountinfoPath != "" {
			relay.SourcePath = cfg.Relay.MountinfoPath
		}
		if cfg.Relay.DevicePath != "" {
			relay.DevicePath = cfg.Relay.DevicePath
		}
		if opts.source != "" {
			relay.SourcePath = opts.source
		}
		if opts.device != "" {
			relay.DevicePath = opts.device
		}
		result, runErr = relay.RunResult()
	}

	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		return runErr
	}

	out := output.New(cmd.OutOrStdout())
	if result.KernelRelease != "" {
		out.Field("Kernel", result.KernelRelease)
	}
	switch {
	case runErr != nil:
		out.Errorf("Relay failed (%s)", result.Status)
		return runErr
	case result.Skipped:
		out.Success("Relay not needed on this kernel")
	default:
		out.Successf("Relayed %d bytes", result.BytesWritten)
	}
	return nil
}
