package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/berrythewa/pastesync/internal/daemon"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/berrythewa/pastesync/pkg/format"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect background tasks",
	}
	cmd.AddCommand(newTaskListCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List file pulls, fan-outs and cleanups",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := []task.Status{task.StatusPreparing, task.StatusExecuting, task.StatusSuccess, task.StatusFailure}
			if status != "" {
				statuses = []task.Status{task.Status(strings.ToUpper(status))}
			}

			tasks, err := listTasks(cmd, statuses)
			if err != nil {
				return err
			}
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
			if limit > 0 && len(tasks) > limit {
				tasks = tasks[:limit]
			}

			if useJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSUBJECT\tSTATUS\tATTEMPTS\tLAST ERROR\tUPDATED")
			for _, t := range tasks {
				histories := task.Histories(t.ExtraInfo)
				lastErr := "-"
				if n := len(histories); n > 0 {
					h := histories[n-1]
					lastErr = h.Code
					if verbose && h.Message != "" {
						lastErr += ": " + h.Message
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%s\t%s\n",
					t.ID, t.Type, t.SubjectID, t.Status, len(histories), lastErr,
					format.FormatRelativeTime(t.ModifyTime, now))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only tasks with this status (preparing, executing, success, failure)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of tasks to show")
	return cmd
}

func listTasks(cmd *cobra.Command, statuses []task.Status) ([]*task.Task, error) {
	var tasks []*task.Task
	if ok, err := callService(cmd, daemon.CmdTasks, daemon.TasksArgs{Statuses: statuses}, &tasks); ok {
		return tasks, err
	}
	if err := cfg.SystemPaths.EnsureDirs(); err != nil {
		return nil, err
	}
	store, err := task.NewBoltStore(cfg.Storage.TaskDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("%w (is the service running? stop it first)", err)
	}
	defer store.Close()
	return store.ListByStatus(cmd.Context(), statuses...)
}
