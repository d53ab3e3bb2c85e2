package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/berrythewa/pastesync/internal/daemon"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/storage"
	"github.com/berrythewa/pastesync/pkg/format"
	"github.com/spf13/cobra"
)

func openContent() (*storage.BoltStorage, error) {
	if err := cfg.SystemPaths.EnsureDirs(); err != nil {
		return nil, err
	}
	s, err := storage.NewBoltStorage(storage.StorageConfig{
		DBPath:   cfg.Storage.DBPath,
		Resolver: cfg.SystemPaths,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (is the service running? stop it first)", err)
	}
	return s, nil
}

func listHistory(cmd *cobra.Command, opts storage.HistoryOptions) ([]*paste.Data, error) {
	var list []*paste.Data
	if ok, err := callService(cmd, daemon.CmdHistory, opts, &list); ok {
		return list, err
	}
	store, err := openContent()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(cmd.Context(), opts)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid paste id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// newHistoryCmd creates the history command with all subcommands
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage clipboard history",
		Long: `Manage clipboard history:
  • List history entries
  • Show, delete and favorite entries
  • Show history statistics`,
	}
	list := newHistoryListCmd()
	cmd.RunE = list.RunE
	cmd.Flags().AddFlagSet(list.Flags())

	cmd.AddCommand(list, newHistoryShowCmd(), newHistoryDeleteCmd(), newHistoryFavoriteCmd(), newHistoryStatsCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit      int
		since      time.Duration
		before     time.Duration
		reverse    bool
		typeFilter string
		minSize    int64
		maxSize    int64
		favorites  bool
		compact    bool
		maxLines   int
		maxWidth   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clipboard history",
		Long: `List clipboard history entries, newest first.

Examples:
  pastesync history list                    # Show last 10 entries
  pastesync history list -n 20              # Show last 20 entries
  pastesync history list --since 1h         # Show entries from last hour
  pastesync history list --type url         # Show only links
  pastesync history list --compact          # Compact single-line format`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			opts := storage.HistoryOptions{
				Limit:         limit,
				Type:          paste.Type(typeFilter),
				MinSize:       minSize,
				MaxSize:       maxSize,
				Reverse:       reverse,
				FavoritesOnly: favorites,
			}
			if since > 0 {
				opts.Since = now.Add(-since)
			}
			if before > 0 {
				opts.Before = now.Add(-before)
			}
			list, err := listHistory(cmd, opts)
			if err != nil {
				return err
			}

			if useJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fopts := formatOptions(compact)
			if maxLines > 0 {
				fopts.MaxLines = maxLines
			}
			if maxWidth > 0 {
				fopts.MaxWidth = maxWidth
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.FormatPasteList(list, fopts))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of entries to show")
	cmd.Flags().DurationVar(&since, "since", 0, "show entries since duration (e.g. 24h)")
	cmd.Flags().DurationVar(&before, "before", 0, "show entries older than duration")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "oldest first")
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "filter by type (text, url, html, rtf, color, images, files)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "minimum size in bytes")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "maximum size in bytes")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "only favorites")
	cmd.Flags().BoolVarP(&compact, "compact", "c", false, "use compact single-line format")
	cmd.Flags().IntVar(&maxLines, "max-lines", 10, "maximum lines to show per entry (0 = no limit)")
	cmd.Flags().IntVar(&maxWidth, "max-width", 80, "maximum width per line (0 = no limit)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one history entry in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			d := &paste.Data{}
			handled, err := callService(cmd, daemon.CmdShow, daemon.IDArgs{IDs: ids}, d)
			if !handled {
				store, oerr := openContent()
				if oerr != nil {
					return oerr
				}
				defer store.Close()
				d, err = store.Get(cmd.Context(), ids[0])
			}
			if err != nil {
				return err
			}
			if useJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			opts := formatOptions(false)
			opts.MaxLines, opts.MaxWidth = 0, 0
			fmt.Fprintln(cmd.OutOrStdout(), format.FormatPaste(d, opts))
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete history entries and the files they own",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			var res daemon.DeleteResult
			handled, err := callService(cmd, daemon.CmdDelete, daemon.IDArgs{IDs: ids}, &res)
			if !handled {
				store, oerr := openContent()
				if oerr != nil {
					return oerr
				}
				defer store.Close()
				res.Deleted, err = store.MarkDeleted(cmd.Context(), ids...)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d entries\n", res.Deleted)
			return nil
		},
	}
}

func newHistoryFavoriteCmd() *cobra.Command {
	var unset bool
	cmd := &cobra.Command{
		Use:   "favorite <id>",
		Short: "Keep an entry out of cleanup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			handled, err := callService(cmd, daemon.CmdFavorite, daemon.FavoriteArgs{ID: ids[0], Favorite: !unset}, nil)
			if !handled {
				store, oerr := openContent()
				if oerr != nil {
					return oerr
				}
				defer store.Close()
				err = store.SetFavorite(cmd.Context(), ids[0], !unset)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Entry %d favorite: %t\n", ids[0], !unset)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "remove the favorite mark")
	return cmd
}

func newHistoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := listHistory(cmd, storage.HistoryOptions{})
			if err != nil {
				return err
			}
			stats := format.ComputeStats(list)
			if useJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.FormatStats(stats, formatOptions(false)))
			return nil
		},
	}
}
