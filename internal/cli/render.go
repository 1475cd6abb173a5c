package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/srcrecover/internal/dexheader"
	"github.com/roach88/srcrecover/internal/pipeline"
	"github.com/roach88/srcrecover/internal/reconcile"
	"github.com/roach88/srcrecover/internal/recovery"
	"github.com/roach88/srcrecover/internal/toolchain"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// writeReport renders a run report for humans.
func writeReport(w io.Writer, r *recovery.Report) error {
	s := r.Summary
	fmt.Fprintf(w, "run:      %s\n", r.RunID)
	fmt.Fprintf(w, "archive:  %s\n", r.Archive)
	if r.Dest != "" {
		fmt.Fprintf(w, "dest:     %s\n", r.Dest)
	}
	fmt.Fprintf(w, "status:   %s (%d/%d units, %s)\n", s.Status, s.Succeeded, s.Total, plural(s.Warnings, "warning"))
	fmt.Fprintf(w, "duration: %s\n", r.FinishedAt.Sub(r.StartedAt))

	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "UNIT\tHEADER\tOUTCOME\tSTRATEGY\tDETAIL")
	for _, u := range r.Units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, headerLabel(u.Header, u.HeaderError), u.Outcome, dash(u.Strategy), unitDetail(u))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Fetches) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "fetches:")
		if err := writeFetches(w, r.Fetches); err != nil {
			return err
		}
	}

	switch {
	case r.Cancelled:
		fmt.Fprintln(w)
		fmt.Fprintln(w, "cancelled: destination left untouched")
	case r.ReconcileSkipped != "":
		fmt.Fprintln(w)
		fmt.Fprintf(w, "reconcile skipped: %s\n", r.ReconcileSkipped)
	case r.Reconcile != nil:
		fmt.Fprintln(w)
		writeReconcileSummary(w, *r.Reconcile)
		if r.ReconcileError != "" {
			fmt.Fprintf(w, "reconcile error: %s\n", r.ReconcileError)
		}
	}
	return nil
}

func writeFetches(w io.Writer, fetches []toolchain.FetchAttempt) error {
	tw := newTable(w)
	for _, f := range fetches {
		result := "ok"
		if !f.Succeeded {
			result = "failed: " + f.Error
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Capability, f.URL, result)
	}
	return tw.Flush()
}

func writeReconcileSummary(w io.Writer, rep reconcile.Report) {
	fmt.Fprintf(w, "reconcile: %d copied, %d removed, %d skipped, %s\n",
		rep.Copied, rep.Removed, rep.Skipped, plural(len(rep.Conflicts), "conflict"))
	if rep.Preserved > 0 {
		fmt.Fprintf(w, "  nothing under namespace; %s kept\n", plural(rep.Preserved, "placeholder"))
	}
	for _, c := range rep.Conflicts {
		note := ""
		if c.Identical {
			note = " (identical)"
		}
		fmt.Fprintf(w, "  %s: kept %s, dropped %s%s\n", c.Target, c.Kept, c.Dropped, note)
	}
}

// unitDetail is the winning evidence for a success and the failure reason
// otherwise.
func unitDetail(u recovery.UnitReport) string {
	if u.Outcome == pipeline.OutcomeSuccess {
		for _, a := range u.Attempts {
			if a.Strategy == u.Strategy {
				return a.Evidence
			}
		}
	}
	return dash(u.Reason)
}

func headerLabel(h *dexheader.Descriptor, headerErr string) string {
	if h == nil || headerErr != "" {
		return "invalid"
	}
	return h.Version
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
