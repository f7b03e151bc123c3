package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/anythingd/internal/output"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

func newObserversCmd() *cobra.Command {
	var (
		jsonOutput bool
		key        string
	)

	cmd := &cobra.Command{
		Use:   "observers",
		Short: "List registered observers",
		Long: `List the observers registered in the running service with their queue
depth and callback counters.

An observer marked "stuck" did not finish its queued events within the drain
timeout when it was being removed; it stays registered until restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runObservers(cmd.Context(), cmd, key, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&key, "key", "", "Show a single observer")
	return cmd
}

func runObservers(ctx context.Context, cmd *cobra.Command, key string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newClient()
	if err != nil {
		return err
	}
	if !client.IsRunning() {
		return fmt.Errorf("anythingd is not running")
	}

	infos, err := client.Observers(ctx, key)
	if err != nil {
		return err
	}

	if jsonOutput {
		if infos == nil {
			infos = []registry.EntryInfo{}
		}
		return writeJSON(cmd.OutOrStdout(), infos)
	}

	if len(infos) == 0 {
		out.Status("", "No observers registered")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{
			info.Key,
			strconv.Itoa(info.Pending),
			strconv.FormatUint(info.Processed, 10),
			strconv.FormatUint(info.Failed, 10),
			entryState(info),
		})
	}
	out.Table([]string{"KEY", "PENDING", "PROCESSED", "FAILED", "STATE"}, rows)
	return nil
}

func entryState(info registry.EntryInfo) string {
	switch {
	case info.Stuck:
		return "stuck"
	case info.Stopping:
		return "stopping"
	default:
		return "live"
	}
}
