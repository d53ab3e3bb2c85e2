package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berrythewa/pastesync/internal/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		duration time.Duration
		noSync   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clipboard service in the foreground",
		Long: `Run the clipboard service: watch the clipboard, store its history,
exchange pastes with paired devices and clean up old entries.

The service runs until interrupted unless --duration is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noSync {
				cfg.Sync.Enabled = false
			}

			release, err := daemon.WritePID(daemon.PIDFile(cfg.SystemPaths.DataDir))
			if err != nil {
				return err
			}
			defer release()

			svc, err := daemon.NewService(cfg, logger, daemon.Options{})
			if err != nil {
				logger.Error("Failed to initialize service", zap.Error(err))
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "pastesync running as device %s, press Ctrl+C to stop\n", cfg.DeviceID)
			}
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (for testing)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "run without peer-to-peer sync")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the service is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemon.RunningPID(daemon.PIDFile(cfg.SystemPaths.DataDir))
			if err != nil {
				if errors.Is(err, daemon.ErrNotRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), err)
					return nil
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pastesync is running with PID %d\n", pid)

			var info daemon.StatusInfo
			handled, err := callService(cmd, daemon.CmdStatus, nil, &info)
			if !handled || err != nil {
				logger.Debug("Status not available from the service", zap.Error(err))
				return nil
			}
			if useJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "  device:  %s\n", info.DeviceID)
			fmt.Fprintf(out, "  pending: %d tasks\n", info.PendingTasks)
			if !info.SyncEnabled {
				fmt.Fprintln(out, "  sync:    disabled")
				return nil
			}
			fmt.Fprintf(out, "  peer:    %s\n", info.PeerID)
			for _, a := range info.Addrs {
				fmt.Fprintf(out, "  listen:  %s\n", a)
			}
			fmt.Fprintf(out, "  devices: %d known\n", len(info.Devices))
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemon.Stop(daemon.PIDFile(cfg.SystemPaths.DataDir))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to PID %d\n", pid)
			return nil
		},
	}
}
