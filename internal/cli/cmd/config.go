package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the config command
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pastesync configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(), newConfigValidateCmd(), newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration",
		Long: `Write a configuration with defaults for this platform and create
the data directories. An existing file is only replaced with --force.`,
		// the root hook would load (and create) the file first
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := config.ActiveConfigPath(configFile)
			if err != nil {
				return fmt.Errorf("failed to get active config path: %w", err)
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("configuration already exists at %s\nUse --force to overwrite or 'pastesync config show' to view it", configPath)
			}

			c := config.DefaultConfig()
			if err := c.Save(configPath); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			if err := c.SystemPaths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create data directories: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration initialized at: %s\n", configPath)
			fmt.Fprintf(out, "✓ Device ID: %s\n", c.DeviceID)
			fmt.Fprintf(out, "✓ Data directory: %s\n", c.SystemPaths.DataDir)
			fmt.Fprintln(out, "\nTo start the service, run: pastesync run")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var outFormat string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useJSON {
				outFormat = "json"
			}
			switch outFormat {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			case "yaml":
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			default:
				return fmt.Errorf("unsupported format: %s", outFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outFormat, "format", "f", "yaml", "output format (yaml or json)")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration and data locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := config.ActiveConfigPath(configFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:    %s\n", configPath)
			fmt.Fprintf(out, "data:      %s\n", cfg.SystemPaths.DataDir)
			fmt.Fprintf(out, "database:  %s\n", cfg.Storage.DBPath)
			fmt.Fprintf(out, "tasks:     %s\n", cfg.Storage.TaskDBPath)
			fmt.Fprintf(out, "downloads: %s\n", cfg.SystemPaths.DownloadsDir)
			return nil
		},
	}
}
