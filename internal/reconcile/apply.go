package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Report counts what a reconciliation did.
type Report struct {
	Dest      string     `json:"dest"`
	Copied    int        `json:"copied"`
	Removed   int        `json:"removed"`
	Skipped   int        `json:"skipped"`
	Conflicts []Conflict `json:"conflicts"`
	Preserved int        `json:"preserved"`
}

// Reconcile plans and applies in one call. Cancellation before the plan is
// complete returns ctx.Err() with dest untouched.
func Reconcile(ctx context.Context, dest string, candidates []Candidate, opts Options) (Report, error) {
	plan, err := BuildPlan(ctx, dest, candidates, opts)
	if err != nil {
		return Report{Dest: dest, Conflicts: []Conflict{}}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{Dest: dest, Conflicts: []Conflict{}}, err
	}
	return plan.Apply()
}

// Apply performs the plan. It does not observe cancellation.
//
// Every copy is first written into a hidden staging directory inside dest.
// If staging fails nothing visible has changed. Otherwise placeholders are
// removed and staged files renamed into place; errors in that phase are
// collected and the remaining operations still run.
func (p *Plan) Apply() (Report, error) {
	report := Report{
		Dest:      p.Dest,
		Skipped:   len(p.Skipped),
		Conflicts: p.Conflicts,
		Preserved: len(p.Preserved),
	}

	if err := os.MkdirAll(p.Dest, 0o755); err != nil {
		return report, fmt.Errorf("create destination: %w", err)
	}
	staging, err := os.MkdirTemp(p.Dest, stagingPrefix+"*")
	if err != nil {
		return report, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	staged := make([]string, len(p.Copies))
	for i, c := range p.Copies {
		staged[i] = filepath.Join(staging, strconv.Itoa(i))
		if err := copyFile(c.Source, staged[i]); err != nil {
			return report, fmt.Errorf("stage %s: %w", c.Target, err)
		}
	}

	var errs []error
	for _, rel := range p.Removals {
		err := os.Remove(filepath.Join(p.Dest, filepath.FromSlash(rel)))
		switch {
		case err == nil:
			report.Removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
		}
	}

	for i, c := range p.Copies {
		target := filepath.Join(p.Dest, filepath.FromSlash(c.Target))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			errs = append(errs, fmt.Errorf("place %s: %w", c.Target, err))
			continue
		}
		if err := os.Rename(staged[i], target); err != nil {
			errs = append(errs, fmt.Errorf("place %s: %w", c.Target, err))
			continue
		}
		report.Copied++
	}

	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reconciled",
		"dest", p.Dest,
		"copied", report.Copied,
		"removed", report.Removed,
		"skipped", report.Skipped,
		"conflicts", len(report.Conflicts),
		"preserved", report.Preserved,
	)
	return report, errors.Join(errs...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
