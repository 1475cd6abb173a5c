package recovery

import (
	"time"

	"github.com/roach88/srcrecover/internal/dexheader"
	"github.com/roach88/srcrecover/internal/pipeline"
	"github.com/roach88/srcrecover/internal/reconcile"
	"github.com/roach88/srcrecover/internal/toolchain"
)

// Status is the overall verdict of a run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// UnitReport is everything known about one unit after a run.
type UnitReport struct {
	Index       int                   `json:"index"`
	Name        string                `json:"name"`
	Size        int64                 `json:"size"`
	Digest      string                `json:"digest"`
	Header      *dexheader.Descriptor `json:"header,omitempty"`
	HeaderError string                `json:"header_error,omitempty"`
	Outcome     pipeline.Outcome      `json:"outcome"`
	Strategy    string                `json:"strategy,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	OutputDir   string                `json:"output_dir,omitempty"`
	Attempts    []pipeline.Attempt    `json:"attempts"`
}

// Summary condenses the unit outcomes.
type Summary struct {
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Warnings  int    `json:"warnings"`
	Status    Status `json:"status"`
}

// Report is the result of one run. Every unit appears exactly once.
type Report struct {
	RunID      string    `json:"run_id"`
	Archive    string    `json:"archive"`
	Dest       string    `json:"dest,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled,omitempty"`

	Units     []UnitReport             `json:"units"`
	Fetches   []toolchain.FetchAttempt `json:"fetches"`
	Reconcile *reconcile.Report        `json:"reconcile,omitempty"`
	// ReconcileError is set when reconciliation ran and reported errors.
	ReconcileError string `json:"reconcile_error,omitempty"`
	// ReconcileSkipped says why a requested reconciliation did not run.
	ReconcileSkipped string  `json:"reconcile_skipped,omitempty"`
	Summary          Summary `json:"summary"`
}

// Summarize counts outcomes. Each unit that did not succeed is one warning.
func Summarize(units []UnitReport) Summary {
	s := Summary{Total: len(units)}
	for _, u := range units {
		if u.Outcome == pipeline.OutcomeSuccess {
			s.Succeeded++
		}
	}
	s.Failed = s.Total - s.Succeeded
	s.Warnings = s.Failed

	switch {
	case s.Total > 0 && s.Succeeded == s.Total:
		s.Status = StatusComplete
	case s.Succeeded > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusFailed
	}
	return s
}

// Candidates returns the winning output trees in unit order, the priority
// order used for reconciliation.
func (r *Report) Candidates() []reconcile.Candidate {
	var out []reconcile.Candidate
	for _, u := range r.Units {
		if u.Outcome == pipeline.OutcomeSuccess && u.OutputDir != "" {
			out = append(out, reconcile.Candidate{Unit: u.Name, Strategy: u.Strategy, Root: u.OutputDir})
		}
	}
	return out
}
