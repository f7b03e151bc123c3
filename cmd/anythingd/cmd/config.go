package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/anythingd/internal/config"
	"github.com/Aman-CERP/anythingd/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the anythingd configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. Config file (--config, else ~/.config/anythingd/config.yaml)
  3. Environment variables (ANYTHINGD_*)`,
		Example: `  # Create the config file with defaults
  anythingd config init

  # Show effective configuration
  anythingd config show

  # Undo the last 'config init --force'
  anythingd config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

// targetConfigPath is the file the config subcommands operate on.
func targetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetUserConfigPath()
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file",
		Long: `Create the configuration file with default values.

With --force an existing file is backed up, then rewritten with your
settings kept and any new options filled in with defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rewrite an existing configuration")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		defaults   bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, defaults)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the built-in defaults only")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), targetConfigPath())
			return err
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the configuration from a backup",
		Long: `Restore the configuration file from a backup made by 'config init --force'.

Without an argument the newest backup is used. The current file is itself
backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backup := ""
			if len(args) == 1 {
				backup = args[0]
			}
			return runConfigRestore(cmd, backup, list)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List available backups")
	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := targetConfigPath()

	_, statErr := os.Stat(path)
	exists := statErr == nil

	if exists && !force {
		out.Warning("Configuration already exists")
		out.Field("Location", path)
		out.Status("", "Use --force to rewrite it with new defaults (your settings are kept)")
		return nil
	}

	cfg := config.NewConfig()
	var backupPath string
	if exists {
		var err error
		backupPath, err = config.Backup(path)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse existing config (backup kept at %s): %w", backupPath, err)
		}
	}

	if err := cfg.WriteYAML(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if exists {
		out.Success("Configuration rewritten")
		out.Field("Location", path)
		out.Field("Backup", backupPath)
		return nil
	}
	out.Success("Created configuration")
	out.Field("Location", path)
	out.Status("", "Edit the file, then run 'anythingd config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput, defaults bool) error {
	var (
		cfg *config.Config
		err error
	)
	if defaults {
		cfg = config.NewConfig()
	} else if cfg, err = loadConfig(); err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigRestore(cmd *cobra.Command, backup string, list bool) error {
	out := output.New(cmd.OutOrStdout())
	path := targetConfigPath()

	backups, err := config.ListBackups(path)
	if err != nil {
		return err
	}

	if list {
		if len(backups) == 0 {
			out.Status("", "No backups found")
			return nil
		}
		for _, b := range backups {
			out.Status("", b)
		}
		return nil
	}

	if backup == "" {
		if len(backups) == 0 {
			return fmt.Errorf("no backups of %s found", path)
		}
		backup = backups[0]
	}

	if err := config.Restore(path, backup); err != nil {
		return err
	}
	out.Success("Configuration restored")
	out.Field("Location", path)
	out.Field("From", backup)
	return nil
}
