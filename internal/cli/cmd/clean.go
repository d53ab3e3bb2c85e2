package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/berrythewa/pastesync/internal/cleanup"
	"github.com/berrythewa/pastesync/internal/daemon"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var (
		maxSize int64
		percent int
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run one storage cleanup now",
		Long: `Delete images and files past their retention, then, when the
non-favorite history exceeds the size limit, delete the oldest entries
until the configured percentage has been freed. Favorites are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := cleanup.PolicyFromConfig(cfg.Cleanup)
			overridden := false
			if maxSize > 0 {
				policy.MaxStorageSize = maxSize
				overridden = true
			}
			if cmd.Flags().Changed("percent") {
				policy.CleanupPercentage = percent
				overridden = true
			}

			var (
				report  cleanup.Report
				handled bool
				err     error
			)
			if !overridden {
				handled, err = callService(cmd, daemon.CmdClean, nil, &report)
			}
			if !handled {
				store, oerr := openContent()
				if oerr != nil {
					return oerr
				}
				defer store.Close()
				report, err = cleanup.NewExecutor(store, policy, logger).Run(cmd.Context())
			}
			if useJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if eerr := enc.Encode(report); eerr != nil {
					return eerr
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Expired entries deleted: %d\n", report.AgeDeleted)
			fmt.Fprintf(out, "✓ Entries deleted over the size limit: %d\n", report.ThresholdDeleted)
			if !report.Cutoff.IsZero() {
				fmt.Fprintf(out, "  cutoff %s (%d size queries)\n", report.Cutoff.Local().Format("2006-01-02 15:04:05"), report.Queries)
			}
			return err
		},
	}

	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "override the size limit in bytes (requires the service to be stopped)")
	cmd.Flags().IntVar(&percent, "percent", 0, "override the percentage freed once over the limit")
	return cmd
}
