package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/anythingd/internal/daemon"
	"github.com/Aman-CERP/anythingd/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show whether the service is running and, if so, its process ID, uptime,
number of observers, event counters, event source and mount relay result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// newClient builds a client for the configured socket.
func newClient() (*daemon.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(daemon.ConfigFrom(cfg)), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newClient()
	if err != nil {
		return err
	}

	if !client.IsRunning() {
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), daemon.StatusResult{Running: false})
		}
		out.Status("", "anythingd is not running")
		out.Status("", "Run 'anythingd run' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), status)
	}

	out.Success("anythingd is running")
	out.Field("PID", status.PID)
	out.Field("Uptime", status.Uptime)
	out.Field("Observers", status.Observers)
	out.Field("Events", fmt.Sprintf("%d received, %d delivered, %d dropped",
		status.Events.Received, status.Events.Delivered, status.Events.Dropped))
	out.Field("Event source", fmt.Sprintf("%s (%d dropped)", status.WatcherType, status.WatcherDropped))
	for _, root := range status.Roots {
		out.Field("Watching", root)
	}
	out.Field("Plugins", status.PluginDir)

	switch {
	case status.Relay == nil:
		out.Field("Mount relay", "disabled")
	case status.Relay.Skipped:
		out.Field("Mount relay", fmt.Sprintf("skipped (kernel %s)", status.Relay.KernelRelease))
	case status.Relay.Error != "":
		out.Field("Mount relay", fmt.Sprintf("%s: %s", status.Relay.Status, status.Relay.Error))
	default:
		out.Field("Mount relay", fmt.Sprintf("%s (%d bytes)", status.Relay.Status, status.Relay.BytesWritten))
	}

	return nil
}
