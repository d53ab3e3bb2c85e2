// Package cmd implements the pastesync command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/berrythewa/pastesync/internal/common"
	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/ipc"
	"github.com/berrythewa/pastesync/pkg/format"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configFile string
	verbose    bool
	quiet      bool
	useJSON    bool
	noColors   bool
	plain      bool

	// Shared resources, set in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pastesync",
	Short: "Clipboard history synchronized between your devices",
	Long: `pastesync keeps a clipboard history and shares it with paired devices:
  • Text, links, rich text, colors, images and files
  • Peer-to-peer transfer between devices on the same network
  • Automatic cleanup of old and oversized history`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is the platform config directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimize output")
	rootCmd.PersistentFlags().BoolVar(&useJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColors, "no-colors", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable colors and icons, for scripts")

	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newStopCmd(),
		newHistoryCmd(),
		newTaskCmd(),
		newCleanCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
}

func setup(cmd *cobra.Command, args []string) error {
	path, err := config.ActiveConfigPath(configFile)
	if err != nil {
		return fmt.Errorf("failed to locate config: %w", err)
	}
	cfg, err = config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch {
	case verbose:
		cfg.Log.Level = "debug"
		cfg.Log.Format = "console"
	case quiet:
		cfg.Log.Level = "warn"
	}
	logger, err = common.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func formatOptions(compact bool) format.Options {
	opts := format.DefaultOptions()
	switch {
	case compact:
		opts = format.CompactOptions()
	case plain:
		opts = format.PlainOptions()
	}
	if plain {
		opts.UseIcons = false
	}
	if plain || noColors || os.Getenv("NO_COLOR") != "" {
		opts.UseColors = false
	}
	return opts
}

// callService runs command on a running service. handled is false when no
// service is listening and the caller should open the databases itself.
func callService(cmd *cobra.Command, command string, args, out any) (handled bool, err error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	err = ipc.Call(ctx, ipc.SocketPath(cfg.SystemPaths.DataDir), command, args, out)
	if errors.Is(err, ipc.ErrUnavailable) {
		logger.Debug("Service not running, using the databases directly")
		return false, nil
	}
	return true, err
}
