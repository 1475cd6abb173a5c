package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SuccessPredicate decides from the contents of an output directory whether
// a strategy produced usable source. Decompilers in this family exit nonzero
// after partial success and zero after writing nothing, so exit codes are
// never consulted.
type SuccessPredicate interface {
	Evaluate(outputDir string) (ok bool, detail string, err error)
}

// PredicateFunc adapts a function to SuccessPredicate.
type PredicateFunc func(outputDir string) (bool, string, error)

func (f PredicateFunc) Evaluate(outputDir string) (bool, string, error) {
	return f(outputDir)
}

// DefaultSourceExtensions are the file types counted as recovered source.
var DefaultSourceExtensions = []string{".java", ".kt"}

// SourceCount succeeds when at least Min files with one of Extensions exist
// anywhere under the output directory.
type SourceCount struct {
	Extensions []string
	// Min is the required count; values below 1 mean 1.
	Min int
}

func (p SourceCount) Evaluate(outputDir string) (bool, string, error) {
	exts := p.Extensions
	if len(exts) == 0 {
		exts = DefaultSourceExtensions
	}
	need := max(p.Min, 1)

	n, err := countFiles(outputDir, func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		for _, want := range exts {
			if ext == want {
				return true
			}
		}
		return false
	})
	if err != nil {
		return false, "", err
	}
	return n >= need, fmt.Sprintf("%d source files", n), nil
}

// AnyFile succeeds when the output directory holds any regular file at all.
// It is the loosest heuristic and accepts resource-only output.
type AnyFile struct{}

func (AnyFile) Evaluate(outputDir string) (bool, string, error) {
	n, err := countFiles(outputDir, func(string) bool { return true })
	if err != nil {
		return false, "", err
	}
	return n > 0, fmt.Sprintf("%d files", n), nil
}

func countFiles(root string, match func(name string) bool) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() && match(d.Name()) {
			n++
		}
		return nil
	})
	return n, err
}
