package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/feedmirror/internal/pipeline"
	"github.com/roach88/feedmirror/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
	Outcome  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded sync runs",
		Long: `List recent sync runs from the run ledger, or the per-URL outcomes
of a single run.

The ledger path comes from --db, or history_db in the config.

Examples:
  feedmirror history --db runs.db
  feedmirror history --db runs.db --run 0192f0c4-... --outcome skipped
  feedmirror history -c feedmirror.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of runs to list (0 = all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show URL outcomes for this run")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter URL outcomes (uploaded|reused-not-modified|reused-existing|skipped)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	dbPath := opts.Database
	if dbPath == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		dbPath = cfg.HistoryDB
	}
	if dbPath == "" {
		return NewExitError(ExitCommandError, "no run ledger: set --db or history_db")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := context.Background()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.RunID != "" {
		run, err := st.GetRun(ctx, opts.RunID)
		if err != nil {
			return reportError(formatter, ExitCommandError, ErrCodeNotFound, "failed to load run", err)
		}
		events, err := st.RunEvents(ctx, opts.RunID, pipeline.Outcome(opts.Outcome))
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load run events", err)
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]any{"run": run, "events": events})
		}
		writeRun(cmd.OutOrStdout(), run)
		for _, ev := range events {
			writeEvent(cmd.OutOrStdout(), ev)
		}
		return nil
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list runs", err)
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"runs": runs})
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}
	for _, r := range runs {
		writeRun(cmd.OutOrStdout(), r)
	}
	return nil
}

func writeRun(w io.Writer, r store.Run) {
	status := "unfinished"
	if r.Finished() {
		status = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "%s  %s  %-10s  %s concurrency=%d changed=%t\n",
		r.RunID, r.StartedAt.Format(time.RFC3339), status, r.Stats, r.Concurrency, r.ManifestChanged)
}

func writeEvent(w io.Writer, ev store.Event) {
	fmt.Fprintf(w, "  %6d  %-19s  %s", ev.Seq, ev.Outcome, ev.URL)
	if ev.StoredKey != "" {
		fmt.Fprintf(w, " -> %s", ev.StoredKey)
	}
	if ev.Error != "" {
		fmt.Fprintf(w, " (%s)", ev.Error)
	}
	fmt.Fprintln(w)
}
