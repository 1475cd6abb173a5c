package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
	Digest   string
}

// RunRow is one ledger run in history output.
type RunRow struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Archive    string    `json:"archive"`
	Dest       string    `json:"dest,omitempty"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// UnitRow is one unit of a recorded run.
type UnitRow struct {
	RunID    string       `json:"run_id"`
	Index    int          `json:"index"`
	Name     string       `json:"name"`
	Digest   string       `json:"digest"`
	Outcome  string       `json:"outcome"`
	Winner   string       `json:"winner,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Attempts []AttemptRow `json:"attempts,omitempty"`
}

// AttemptRow is one recorded strategy attempt.
type AttemptRow struct {
	Strategy string        `json:"strategy"`
	Outcome  string        `json:"outcome"`
	Evidence string        `json:"evidence"`
	Duration time.Duration `json:"duration"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in a ledger",
		Long: `List the runs recorded by "srcrecover run --db", most recent first.

With --run the units and attempts of one run are shown. With --digest every
recorded outcome of a unit with that content digest is shown.

Examples:
  srcrecover history --db ./srcrecover.db
  srcrecover history --db ./srcrecover.db --run 0192f0c4-...
  srcrecover history --db ./srcrecover.db --digest 5c1f...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the units of one run")
	cmd.Flags().StringVar(&opts.Digest, "digest", "", "show every recorded outcome of a unit digest")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("run", "digest")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	// Opening creates a missing file; a history query on a typo should not.
	if _, err := os.Stat(opts.Database); err != nil {
		if outErr := f.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return ledgerFailure(f, err)
	}
	defer st.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	switch {
	case opts.RunID != "":
		if _, err := st.RunReport(ctx, opts.RunID); err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				if outErr := f.Error(ErrCodeNotFound, err.Error(), nil); outErr != nil {
					return outErr
				}
				return WrapExitError(ExitCommandError, "run not found", err)
			}
			return ledgerFailure(f, err)
		}
		units, err := st.RunUnits(ctx, opts.RunID)
		if err != nil {
			return ledgerFailure(f, err)
		}
		attempts, err := st.RunAttempts(ctx, opts.RunID)
		if err != nil {
			return ledgerFailure(f, err)
		}
		rows := unitRows(units, attempts)
		return f.Success(rows, func(w io.Writer) error { return writeUnitRows(w, rows, true) })

	case opts.Digest != "":
		units, err := st.UnitHistory(ctx, opts.Digest)
		if err != nil {
			return ledgerFailure(f, err)
		}
		rows := unitRows(units, nil)
		return f.Success(rows, func(w io.Writer) error { return writeUnitRows(w, rows, false) })
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return ledgerFailure(f, err)
	}
	rows := make([]RunRow, len(runs))
	for i, r := range runs {
		rows[i] = RunRow{
			ID: r.ID, Seq: r.Seq, Archive: r.Archive, Dest: r.Dest, Status: r.Status,
			Total: r.Total, Succeeded: r.Succeeded, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
		}
	}
	return f.Success(rows, func(w io.Writer) error {
		if len(rows) == 0 {
			_, err := fmt.Fprintln(w, "no runs recorded")
			return err
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "SEQ\tRUN\tSTATUS\tUNITS\tSTARTED\tARCHIVE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\t%s\n", r.Seq, r.ID, r.Status,
				r.Succeeded, r.Total, r.StartedAt.UTC().Format(time.RFC3339), r.Archive)
		}
		return tw.Flush()
	})
}

func unitRows(units []store.UnitRecord, attempts []store.AttemptRecord) []UnitRow {
	rows := make([]UnitRow, len(units))
	byIndex := make(map[int]*UnitRow, len(units))
	for i, u := range units {
		rows[i] = UnitRow{
			RunID: u.RunID, Index: u.Index, Name: u.Name, Digest: u.Digest,
			Outcome: u.Outcome, Winner: u.Winner, Reason: u.Reason,
		}
		byIndex[u.Index] = &rows[i]
	}
	for _, a := range attempts {
		if row, ok := byIndex[a.UnitIndex]; ok {
			row.Attempts = append(row.Attempts, AttemptRow{
				Strategy: a.Strategy, Outcome: a.Outcome, Evidence: a.Evidence, Duration: a.Duration,
			})
		}
	}
	return rows
}

func writeUnitRows(w io.Writer, rows []UnitRow, withAttempts bool) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tUNIT\tOUTCOME\tSTRATEGY\tDETAIL")
	for _, r := range rows {
		detail := r.Reason
		if withAttempts {
			for _, a := range r.Attempts {
				if a.Strategy == r.Winner {
					detail = a.Evidence
				}
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Name, r.Outcome, dash(r.Winner), dash(detail))
	}
	return tw.Flush()
}

func ledgerFailure(f *OutputFormatter, err error) error {
	if outErr := f.Error(ErrCodeLedger, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "ledger error", err)
}
