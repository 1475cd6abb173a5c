package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/reconcile"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Namespace    string
	Placeholders []string
	DryRun       bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <dest> <candidate-dir>...",
		Short: "Merge candidate trees into a destination tree",
		Long: `Replace the placeholder stubs of a destination tree with the files found
under the namespace root of each candidate tree. Earlier candidates win
conflicts. With --dry-run the plan is printed and nothing is changed.

Example:
  srcrecover reconcile app/src/main/java/com/example work/candidates/classes/jadx --namespace com.example`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "namespace root to harvest (overrides config)")
	cmd.Flags().StringSliceVar(&opts.Placeholders, "placeholder-ext", nil, "placeholder extensions to remove (overrides config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without applying it")
	return cmd
}

func runReconcile(opts *ReconcileOptions, dest string, dirs []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = cfg.Reconcile.Namespace
	}
	placeholders := opts.Placeholders
	if placeholders == nil {
		placeholders = cfg.Reconcile.PlaceholderExtensions
	}

	// Candidate dirs follow the <work>/candidates/<unit>/<strategy> layout.
	candidates := make([]reconcile.Candidate, len(dirs))
	for i, dir := range dirs {
		clean := filepath.Clean(dir)
		candidates[i] = reconcile.Candidate{
			Unit:     filepath.Base(filepath.Dir(clean)),
			Strategy: filepath.Base(clean),
			Root:     dir,
		}
	}
	rOpts := reconcile.Options{
		Namespace:   namespace,
		Placeholder: reconcile.ExtensionPredicate(placeholders),
		Extensions:  cfg.Reconcile.SourceExtensions,
		Logger:      opts.logger(),
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if opts.DryRun {
		plan, err := reconcile.BuildPlan(ctx, dest, candidates, rOpts)
		if err != nil {
			return reconcileFailure(f, err)
		}
		return f.Success(plan, func(w io.Writer) error {
			for _, r := range plan.Removals {
				fmt.Fprintf(w, "remove %s\n", r)
			}
			for _, c := range plan.Copies {
				fmt.Fprintf(w, "copy   %s <- %s\n", c.Target, c.Candidate)
			}
			for _, k := range plan.Preserved {
				fmt.Fprintf(w, "keep   %s\n", k)
			}
			fmt.Fprintf(w, "%d removals, %d copies, %d skipped, %s\n",
				len(plan.Removals), len(plan.Copies), len(plan.Skipped), plural(len(plan.Conflicts), "conflict"))
			return nil
		})
	}

	rep, err := reconcile.Reconcile(ctx, dest, candidates, rOpts)
	if err != nil {
		return reconcileFailure(f, err)
	}
	return f.Success(rep, func(w io.Writer) error {
		writeReconcileSummary(w, rep)
		return nil
	})
}

func reconcileFailure(f *OutputFormatter, err error) error {
	code, exit := classify(err)
	if code == ErrCodeGeneric {
		code = ErrCodeReconcile
	}
	if outErr := f.Error(code, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, "reconcile failed", err)
}
