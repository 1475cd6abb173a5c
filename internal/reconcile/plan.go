// Package reconcile merges candidate source trees into a destination tree.
//
// Reconciliation is split in two. BuildPlan reads the destination and every
// candidate and decides everything: which placeholders go, which candidate
// files land where, which are noise, and which collide. It mutates nothing
// and honors cancellation. Plan.Apply then performs the plan and ignores
// cancellation, so the destination is never left with placeholders removed
// but their replacements missing.
package reconcile

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// stagingPrefix names the hidden directory Apply stages copies in.
const stagingPrefix = ".srcrecover-staging-"

// Candidate is one tree produced by a successful strategy for a unit.
type Candidate struct {
	Unit     string `json:"unit"`
	Strategy string `json:"strategy"`
	Root     string `json:"root"`
}

func (c Candidate) String() string {
	return c.Unit + "/" + c.Strategy
}

// Predicate reports whether a destination file, given by its slash path
// relative to the destination, is a stale placeholder.
type Predicate interface {
	IsPlaceholder(rel string) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(rel string) bool

func (f PredicateFunc) IsPlaceholder(rel string) bool { return f(rel) }

// ExtensionPredicate marks files with any of the listed extensions.
type ExtensionPredicate []string

func (p ExtensionPredicate) IsPlaceholder(rel string) bool {
	ext := strings.ToLower(path.Ext(rel))
	for _, want := range p {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// Options configures BuildPlan.
type Options struct {
	// Namespace is the package root to harvest, as a slash path
	// ("com/example/app"). Empty harvests whole candidate trees.
	Namespace string
	// Placeholder selects destination files to remove. Nil removes nothing.
	Placeholder Predicate
	// Extensions restricts harvested files; empty accepts every file.
	Extensions []string
	Logger     *slog.Logger
}

// Copy moves one candidate file to Target, a slash path relative to the
// destination.
type Copy struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Candidate Candidate `json:"candidate"`
}

// Conflict records a target claimed by more than one candidate. The
// earlier candidate keeps it.
type Conflict struct {
	Target    string    `json:"target"`
	Kept      Candidate `json:"kept"`
	Dropped   Candidate `json:"dropped"`
	Identical bool      `json:"identical"`
}

// Plan is the full set of mutations for one reconciliation.
type Plan struct {
	Dest      string     `json:"dest"`
	Removals  []string   `json:"removals"`
	Copies    []Copy     `json:"copies"`
	Skipped   []string   `json:"skipped"`
	Conflicts []Conflict `json:"conflicts"`
	// Preserved holds placeholders left in place because nothing
	// replaces them.
	Preserved []string `json:"preserved"`

	logger *slog.Logger
}

// BuildPlan computes the reconciliation of candidates into dest. Candidates
// are given in priority order: on a collision the first one wins.
func BuildPlan(ctx context.Context, dest string, candidates []Candidate, opts Options) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	plan := &Plan{
		Dest:      dest,
		Removals:  []string{},
		Copies:    []Copy{},
		Skipped:   []string{},
		Conflicts: []Conflict{},
		Preserved: []string{},
		logger:    logger,
	}

	removals, err := findPlaceholders(ctx, dest, opts.Placeholder)
	if err != nil {
		return nil, err
	}
	plan.Removals = removals

	ns := splitPath(opts.Namespace)
	owners := make(map[string]int) // NFC target -> index in plan.Copies
	for _, cand := range candidates {
		files, err := listFiles(ctx, cand.Root)
		if err != nil {
			return nil, fmt.Errorf("scan candidate %s: %w", cand, err)
		}
		for _, rel := range files {
			source := filepath.Join(cand.Root, filepath.FromSlash(rel))
			target, ok := underNamespace(rel, ns)
			if !ok || !hasExtension(target, opts.Extensions) {
				plan.Skipped = append(plan.Skipped, source)
				continue
			}

			key := norm.NFC.String(target)
			if idx, taken := owners[key]; taken {
				kept := plan.Copies[idx]
				plan.Conflicts = append(plan.Conflicts, Conflict{
					Target:    kept.Target,
					Kept:      kept.Candidate,
					Dropped:   cand,
					Identical: sameContent(kept.Source, source),
				})
				continue
			}
			owners[key] = len(plan.Copies)
			plan.Copies = append(plan.Copies, Copy{Source: source, Target: key, Candidate: cand})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(plan.Copies) == 0 && len(plan.Removals) > 0 {
		logger.Warn("no candidate files under namespace, keeping placeholders",
			"dest", dest,
			"namespace", opts.Namespace,
			"placeholders", len(plan.Removals),
		)
		plan.Preserved, plan.Removals = plan.Removals, []string{}
	}
	logger.Debug("reconcile plan built",
		"dest", dest,
		"removals", len(plan.Removals),
		"copies", len(plan.Copies),
		"skipped", len(plan.Skipped),
		"conflicts", len(plan.Conflicts),
	)
	return plan, nil
}

// findPlaceholders lists destination files the predicate selects. A missing
// destination has none.
func findPlaceholders(ctx context.Context, dest string, pred Predicate) ([]string, error) {
	if pred == nil {
		return []string{}, nil
	}
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return []string{}, nil
	}
	files, err := listFiles(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("scan destination: %w", err)
	}
	out := []string{}
	for _, rel := range files {
		if pred.IsPlaceholder(rel) {
			out = append(out, rel)
		}
	}
	return out, nil
}

// listFiles returns the regular files under root as sorted slash paths,
// skipping leftover staging directories.
func listFiles(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), stagingPrefix) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// underNamespace finds the first directory in rel whose trailing segments
// equal ns and returns the remainder of rel below it.
func underNamespace(rel string, ns []string) (string, bool) {
	segs := strings.Split(rel, "/")
	if len(ns) == 0 {
		return rel, true
	}
	for i := 0; i+len(ns) < len(segs); i++ {
		match := true
		for j, s := range ns {
			if segs[i+j] != s {
				match = false
				break
			}
		}
		if match {
			return strings.Join(segs[i+len(ns):], "/"), true
		}
	}
	return "", false
}

func splitPath(ns string) []string {
	ns = strings.Trim(strings.ReplaceAll(ns, ".", "/"), "/")
	if ns == "" {
		return nil
	}
	return strings.Split(ns, "/")
}

func hasExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

func sameContent(a, b string) bool {
	da, errA := digest(a)
	db, errB := digest(b)
	return errA == nil && errB == nil && da == db
}

func digest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
