// Package recovery runs a whole source recovery: extract the units of a
// distribution, inspect their headers, transform them through the strategy
// chain and reconcile the winners into a destination tree.
//
// Only archive-level problems abort a run. Everything that goes wrong for a
// single unit, tool or file ends up in the Report.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/config"
	"github.com/roach88/srcrecover/internal/dexheader"
	"github.com/roach88/srcrecover/internal/pipeline"
	"github.com/roach88/srcrecover/internal/process"
	"github.com/roach88/srcrecover/internal/reconcile"
	"github.com/roach88/srcrecover/internal/toolchain"
)

// Resolver is the tool resolver as the runner uses it.
type Resolver interface {
	pipeline.ToolResolver
	Attempts() []toolchain.FetchAttempt
}

// Request describes one run.
type Request struct {
	Archive string
	// WorkDir receives extracted units and candidate trees.
	WorkDir string
	// Dest is the destination source tree. Empty skips reconciliation.
	Dest string
	// Namespace overrides the configured namespace root.
	Namespace string
	// Placeholder overrides the configured placeholder extensions.
	Placeholder reconcile.Predicate
}

// Runner wires the stages together.
type Runner struct {
	Config   *config.Config
	Resolver Resolver
	Invoker  process.Invoker
	IDs      RunIDGenerator
	Clock    Clock
	Logger   *slog.Logger
}

// NewRunner builds a Runner with the real resolver and process invoker.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Config:   cfg,
		Resolver: toolchain.NewFromConfig(cfg, logger),
		Invoker:  process.ExecInvoker{},
		IDs:      UUIDv7Generator{},
		Clock:    SystemClock{},
		Logger:   logger,
	}
}

// Run performs a recovery. The error is non-nil only for archive-level
// failures (archive.ErrNotFound, archive.ErrCorruptArchive,
// archive.ErrNoUnits); the returned report is nil then.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	logger := r.logger()
	report := &Report{
		RunID:     r.IDs.Generate(),
		Archive:   req.Archive,
		Dest:      req.Dest,
		StartedAt: r.Clock.Now(),
	}
	logger = logger.With("run", report.RunID)
	logger.Info("recovery started", "archive", req.Archive)

	units, err := archive.Extract(ctx, req.Archive, filepath.Join(req.WorkDir, "units"), archive.Options{
		Patterns: r.Config.UnitPatterns,
	})
	if err != nil {
		return nil, err
	}

	inspections := Inspect(units)
	for _, in := range inspections {
		if in.Err != nil {
			logger.Warn("unreadable header", "unit", in.Unit.Name, "error", in.Err)
		}
	}

	p := &pipeline.Pipeline{
		Resolver:    r.Resolver,
		Invoker:     r.Invoker,
		Strategies:  pipeline.StrategiesFromConfig(r.Config.Strategies),
		Predicate:   pipeline.SourceCount{Extensions: r.Config.Reconcile.SourceExtensions},
		Workers:     r.Config.Workers,
		StepTimeout: r.Config.StepTimeout.Duration,
		WorkDir:     req.WorkDir,
		Logger:      logger,
		Now:         r.Clock.Now,
	}
	result := p.Run(ctx, units)

	report.Units = make([]UnitReport, len(units))
	for i, ur := range result.Units {
		report.Units[i] = unitReport(i, ur, inspections[i])
	}

	switch {
	case ctx.Err() != nil:
		report.Cancelled = true
		logger.Warn("run cancelled; destination left untouched")
	case req.Dest == "":
	case len(report.Candidates()) == 0:
		report.ReconcileSkipped = "no unit recovered; placeholders kept"
		logger.Warn("no candidates; reconcile skipped", "dest", req.Dest)
	default:
		r.reconcile(ctx, req, report, logger)
	}

	report.Fetches = r.Resolver.Attempts()
	if report.Fetches == nil {
		report.Fetches = []toolchain.FetchAttempt{}
	}
	report.Summary = Summarize(report.Units)
	report.FinishedAt = r.Clock.Now()
	logger.Info("recovery finished",
		"status", report.Summary.Status,
		"succeeded", report.Summary.Succeeded,
		"total", report.Summary.Total,
	)
	return report, nil
}

func (r *Runner) reconcile(ctx context.Context, req Request, report *Report, logger *slog.Logger) {
	namespace := req.Namespace
	if namespace == "" {
		namespace = r.Config.Reconcile.Namespace
	}
	placeholder := req.Placeholder
	if placeholder == nil {
		placeholder = reconcile.ExtensionPredicate(r.Config.Reconcile.PlaceholderExtensions)
	}

	rep, err := reconcile.Reconcile(ctx, req.Dest, report.Candidates(), reconcile.Options{
		Namespace:   namespace,
		Placeholder: placeholder,
		Extensions:  r.Config.Reconcile.SourceExtensions,
		Logger:      logger,
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		report.Cancelled = true
		return
	}
	report.Reconcile = &rep
	if err != nil {
		report.ReconcileError = err.Error()
		logger.Error("reconcile failed", "dest", req.Dest, "error", err)
	}
}

// Inspection is the header check of one unit.
type Inspection struct {
	Unit   archive.Unit
	Header *dexheader.Descriptor
	Err    error
}

// Inspect parses the header of every unit. Failures are recorded per unit;
// a unit with a bad header is still transformed.
func Inspect(units []archive.Unit) []Inspection {
	out := make([]Inspection, len(units))
	for i, u := range units {
		out[i].Unit = u
		buf, err := u.Head(dexheader.HeaderSize)
		if err != nil {
			out[i].Err = fmt.Errorf("read header: %w", err)
			continue
		}
		desc, err := dexheader.Parse(buf)
		if desc.MagicValid {
			out[i].Header = &desc
		}
		out[i].Err = err
	}
	return out
}

func unitReport(index int, ur pipeline.UnitResult, in Inspection) UnitReport {
	rep := UnitReport{
		Index:     index,
		Name:      ur.Unit.Name,
		Size:      ur.Unit.Size,
		Digest:    ur.Unit.Digest,
		Header:    in.Header,
		Outcome:   ur.Outcome,
		Strategy:  ur.Winner,
		Reason:    ur.Reason,
		OutputDir: ur.OutputDir,
		Attempts:  ur.Attempts,
	}
	if in.Err != nil {
		rep.HeaderError = in.Err.Error()
	}
	return rep
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
