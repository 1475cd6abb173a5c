// Package pipeline turns binary units into candidate source trees.
//
// Each unit walks the strategy list in order until one strategy succeeds.
// A strategy succeeds when its SuccessPredicate accepts the output
// directory, whatever the tools' exit codes were. Units are independent:
// a unit that exhausts every strategy is reported and the others carry on.
//
// Units run concurrently on a bounded pool of workers. The only state they
// share is the tool resolver, which is safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/process"
	"github.com/roach88/srcrecover/internal/toolchain"
)

// Outcome is the result of one attempt, or the terminal result of a unit.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimedOut        Outcome = "timedOut"
	OutcomeToolUnavailable Outcome = "toolUnavailable"
	OutcomeFailed          Outcome = "failed"
)

// EvidenceCancelled marks attempts and units cut short by cancellation.
const EvidenceCancelled = "cancelled"

// ToolResolver resolves a capability to a runnable tool.
type ToolResolver interface {
	Resolve(ctx context.Context, capability string) (toolchain.Tool, error)
}

// StepRecord is what one tool invocation left behind.
type StepRecord struct {
	Tool     string        `json:"tool"`
	ExitCode int           `json:"exit_code"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Attempt is one strategy applied to one unit.
type Attempt struct {
	Unit      string        `json:"unit"`
	Strategy  string        `json:"strategy"`
	Outcome   Outcome       `json:"outcome"`
	Evidence  string        `json:"evidence"`
	OutputDir string        `json:"output_dir,omitempty"`
	Steps     []StepRecord  `json:"steps,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// UnitResult is the terminal state of one unit.
type UnitResult struct {
	Unit    archive.Unit `json:"unit"`
	Outcome Outcome      `json:"outcome"`
	// Winner names the successful strategy; OutputDir is its tree.
	Winner    string    `json:"winner,omitempty"`
	OutputDir string    `json:"output_dir,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  []Attempt `json:"attempts"`
}

// Result holds one UnitResult per input unit, in input order.
type Result struct {
	Units []UnitResult `json:"units"`
}

// Succeeded counts units whose terminal outcome is success.
func (r *Result) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Pipeline runs strategies over units.
type Pipeline struct {
	Resolver   ToolResolver
	Invoker    process.Invoker
	Strategies []Strategy
	// Predicate defaults to SourceCount{} when nil.
	Predicate SuccessPredicate
	// Workers bounds concurrency; zero means runtime.NumCPU().
	Workers     int
	StepTimeout time.Duration
	// WorkDir holds candidates/<stem>/<strategy> and stage/<stem>/<strategy>.
	WorkDir string
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run transforms every unit. It never fails as a whole: per-unit problems
// are recorded in the Result. Units not started before ctx is cancelled
// are reported failed with evidence "cancelled".
func (p *Pipeline) Run(ctx context.Context, units []archive.Unit) *Result {
	result := &Result{Units: make([]UnitResult, len(units))}
	if len(units) == 0 {
		return result
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(units))

	logger := p.logger()
	logger.Info("transforming units", "units", len(units), "workers", workers, "strategies", len(p.Strategies))

	keys := unitKeys(units)
	started := make([]bool, len(units))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range units {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			result.Units[i] = p.runUnit(ctx, units[i], keys[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, unit := range units {
		if !started[i] {
			result.Units[i] = UnitResult{
				Unit:     unit,
				Outcome:  OutcomeFailed,
				Reason:   EvidenceCancelled,
				Attempts: []Attempt{},
			}
		}
	}
	return result
}

func (p *Pipeline) runUnit(ctx context.Context, unit archive.Unit, key string) UnitResult {
	logger := p.logger().With("unit", unit.Name)
	res := UnitResult{Unit: unit, Attempts: make([]Attempt, 0, len(p.Strategies))}

	for _, strategy := range p.Strategies {
		if ctx.Err() != nil {
			break
		}
		attempt := p.runStrategy(ctx, unit, key, strategy)
		res.Attempts = append(res.Attempts, attempt)
		logger.Debug("attempt finished",
			"strategy", strategy.Name,
			"outcome", attempt.Outcome,
			"evidence", attempt.Evidence,
		)
		if attempt.Outcome == OutcomeSuccess {
			res.Outcome = OutcomeSuccess
			res.Winner = strategy.Name
			res.OutputDir = attempt.OutputDir
			logger.Info("unit recovered", "strategy", strategy.Name, "evidence", attempt.Evidence)
			return res
		}
	}

	res.Outcome, res.Reason = terminal(ctx, res.Attempts)
	logger.Warn("unit not recovered", "outcome", res.Outcome, "reason", res.Reason)
	return res
}

// terminal folds exhausted attempts into one outcome: the shared outcome when
// every attempt timed out or every attempt lacked its tool, failed otherwise.
func terminal(ctx context.Context, attempts []Attempt) (Outcome, string) {
	if ctx.Err() != nil {
		return OutcomeFailed, EvidenceCancelled
	}
	if len(attempts) == 0 {
		return OutcomeFailed, "no strategies configured"
	}

	first := attempts[0].Outcome
	same := true
	for _, a := range attempts[1:] {
		if a.Outcome != first {
			same = false
			break
		}
	}

	reasons := make([]string, len(attempts))
	for i, a := range attempts {
		reasons[i] = a.Strategy + ": " + a.Evidence
	}
	reason := strings.Join(reasons, "; ")

	if same && (first == OutcomeTimedOut || first == OutcomeToolUnavailable) {
		return first, reason
	}
	return OutcomeFailed, reason
}

func (p *Pipeline) runStrategy(ctx context.Context, unit archive.Unit, key string, strategy Strategy) Attempt {
	start := p.now()
	attempt := Attempt{Unit: unit.Name, Strategy: strategy.Name}
	finish := func(outcome Outcome, evidence string) Attempt {
		attempt.Outcome = outcome
		attempt.Evidence = evidence
		attempt.Duration = p.now().Sub(start)
		return attempt
	}

	// Resolve every capability before running anything, so a staged
	// strategy never half-runs.
	tools := make(map[string]toolchain.Tool, len(strategy.Steps))
	for _, capability := range strategy.Capabilities() {
		tool, err := p.Resolver.Resolve(ctx, capability)
		if err != nil {
			if ctx.Err() != nil {
				return finish(OutcomeFailed, EvidenceCancelled)
			}
			return finish(OutcomeToolUnavailable, err.Error())
		}
		tools[capability] = tool
	}

	v := vars{
		input:  unit.Path,
		output: filepath.Join(p.WorkDir, "candidates", key, strategy.Name),
		work:   filepath.Join(p.WorkDir, "stage", key, strategy.Name),
		stem:   unit.Stem(),
	}
	for _, dir := range []string{v.output, v.work} {
		if err := freshDir(dir); err != nil {
			return finish(OutcomeFailed, err.Error())
		}
	}

	for _, step := range strategy.Steps {
		path, argv := tools[step.Tool].Command(v.expandAll(step.Args))
		res, err := p.Invoker.Invoke(ctx, process.Request{
			Path:    path,
			Args:    argv,
			Dir:     v.work,
			Timeout: p.StepTimeout,
		})
		attempt.Steps = append(attempt.Steps, StepRecord{
			Tool:     step.Tool,
			ExitCode: res.ExitCode,
			Stderr:   lastLine(res.Stderr),
			Duration: res.Duration,
		})

		switch {
		case err == nil:
		case errors.Is(err, process.ErrTimedOut):
			return finish(OutcomeTimedOut, fmt.Sprintf("%s timed out after %s", step.Tool, p.StepTimeout))
		case ctx.Err() != nil:
			return finish(OutcomeFailed, EvidenceCancelled)
		default:
			return finish(OutcomeFailed, err.Error())
		}

		if step.Produces != "" {
			produced := v.expand(step.Produces)
			if info, statErr := os.Stat(produced); statErr != nil || !info.Mode().IsRegular() {
				return finish(OutcomeFailed, fmt.Sprintf("%s exited %d without producing %s", step.Tool, res.ExitCode, filepath.Base(produced)))
			}
		}
	}

	ok, detail, err := p.predicate().Evaluate(v.output)
	if err != nil {
		return finish(OutcomeFailed, fmt.Sprintf("inspect output: %v", err))
	}
	if !ok {
		return finish(OutcomeFailed, fmt.Sprintf("no usable output (%s, exit %s)", detail, exitCodes(attempt.Steps)))
	}
	attempt.OutputDir = v.output
	return finish(OutcomeSuccess, fmt.Sprintf("%s, exit %s", detail, exitCodes(attempt.Steps)))
}

func (p *Pipeline) predicate() SuccessPredicate {
	if p.Predicate == nil {
		return SourceCount{}
	}
	return p.Predicate
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// unitKeys names each unit's directories by stem, suffixing the index when
// two units share a stem.
func unitKeys(units []archive.Unit) []string {
	counts := make(map[string]int, len(units))
	for _, u := range units {
		counts[u.Stem()]++
	}
	keys := make([]string, len(units))
	for i, u := range units {
		keys[i] = u.Stem()
		if counts[keys[i]] > 1 {
			keys[i] = fmt.Sprintf("%s-%d", keys[i], i)
		}
	}
	return keys
}

func freshDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func exitCodes(steps []StepRecord) string {
	codes := make([]string, len(steps))
	for i, s := range steps {
		codes[i] = fmt.Sprint(s.ExitCode)
	}
	return strings.Join(codes, ",")
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
