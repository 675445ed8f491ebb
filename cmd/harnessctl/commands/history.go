package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded provisioning runs",
		Long: `Inspect the runs recorded in the history database.

Every create run is recorded with its status, per-type counts and the
result of each resource.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryResourceCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

// withHistory runs fn with the history store opened.
func withHistory(cmd *cobra.Command, historyDB string, fn func(context.Context, *app, *stores.SQLiteStore) error) error {
	ctx := cmd.Context()
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openHistory(ctx, historyDB)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history is disabled")
	}
	defer store.Close()

	return fn(ctx, a, store)
}

func newHistoryListCommand() *cobra.Command {
	var (
		historyDB string
		project   string
		status    string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Example: `  # Last 20 runs
  harnessctl history list

  # Partial runs of one project
  harnessctl history list --project payments_api --status partial`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, historyDB, func(ctx context.Context, _ *app, store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, stores.RunFilter{
					ProjectID: project,
					Status:    engine.RunStatus(status),
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				return renderRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	addHistoryFlag(cmd, &historyDB)
	cmd.Flags().StringVar(&project, "project", "", "only runs of this project identifier")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (succeeded, partial, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "maximum number of runs")

	return cmd
}

func renderRuns(w io.Writer, runs []*engine.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, pterm.Info.Sprint("No runs recorded"))
		return nil
	}

	rows := [][]string{{"ID", "PROJECT", "STATUS", "STARTED", "DURATION", "CREATED", "EXISTING", "FAILED"}}
	for _, r := range runs {
		st := string(r.Status)
		if r.DryRun {
			st += " (dry run)"
		}
		rows = append(rows, []string{
			r.ID,
			r.ProjectID,
			st,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond).String(),
			strconv.Itoa(r.Summary.Created),
			strconv.Itoa(r.Summary.Existing),
			strconv.Itoa(r.Summary.Failed),
		})
	}
	return renderTable(w, rows)
}

func newHistoryShowCommand() *cobra.Command {
	var historyDB string

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run and the result of every resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, historyDB, func(ctx context.Context, _ *app, store *stores.SQLiteStore) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := store.ListResults(ctx, run.ID)
				if err != nil {
					return err
				}
				return renderRun(cmd.OutOrStdout(), run, results)
			})
		},
	}

	addHistoryFlag(cmd, &historyDB)
	return cmd
}

func renderRun(w io.Writer, run *engine.Run, results []engine.OperationResult) error {
	fmt.Fprintln(w, pterm.DefaultSection.Sprintf("Run %s: %s", run.ID, run.Status))

	completed := "-"
	if run.CompletedAt != nil {
		completed = run.CompletedAt.Local().Format(time.DateTime)
	}
	info := [][]string{
		{"FIELD", "VALUE"},
		{"Project", run.ProjectID},
		{"Config", run.ConfigPath},
		{"Dry run", strconv.FormatBool(run.DryRun)},
		{"Started", run.StartedAt.Local().Format(time.DateTime)},
		{"Completed", completed},
		{"Report", run.ReportPath},
	}
	if run.Error != "" {
		info = append(info, []string{"Error", run.Error})
	}
	if err := renderTable(w, info); err != nil {
		return err
	}

	if len(results) == 0 {
		return nil
	}
	rows := [][]string{{"TYPE", "IDENTIFIER", "NAME", "STATUS", "ERROR"}}
	for _, r := range results {
		rows = append(rows, []string{r.ResourceType, r.Identifier, r.Name, string(r.Status), r.Error})
	}
	return renderTable(w, rows)
}

func newHistoryResourceCommand() *cobra.Command {
	var (
		historyDB string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "resource TYPE IDENTIFIER",
		Short: "Show every recorded attempt for one resource",
		Example: `  # Attempts to create the GitHub connector
  harnessctl history resource connector github_connector`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, historyDB, func(ctx context.Context, _ *app, store *stores.SQLiteStore) error {
				entries, err := store.ResourceHistory(ctx, args[0], args[1], limit)
				if err != nil {
					return err
				}
				rows := [][]string{{"RUN", "PROJECT", "STATUS", "ERROR"}}
				for _, e := range entries {
					rows = append(rows, []string{e.RunID, e.ProjectID, string(e.Result.Status), e.Result.Error})
				}
				return renderTable(cmd.OutOrStdout(), rows)
			})
		},
	}

	addHistoryFlag(cmd, &historyDB)
	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "maximum number of entries")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	var historyDB string

	cmd := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, historyDB, func(ctx context.Context, a *app, store *stores.SQLiteStore) error {
				if err := store.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				a.logger.InfoEvent().Str("run", args[0]).Msg("Run deleted")
				return nil
			})
		},
	}

	addHistoryFlag(cmd, &historyDB)
	return cmd
}
