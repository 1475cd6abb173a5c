package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/recovery"
	"github.com/roach88/srcrecover/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Dest      string
	Namespace string
	WorkDir   string
	Database  string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <archive>",
		Short: "Recover sources from an archive into a destination tree",
		Long: `Extract every unit of the archive, transform each through the strategy
chain and reconcile the recovered sources into --dest, replacing placeholder
stubs under the namespace. Per-unit failures are reported, not fatal.

With --db the run is recorded in a SQLite ledger (created if missing).

Examples:
  srcrecover run app-release.apk --dest app/src/main/java/com/example --namespace com.example
  srcrecover run app-release.apk --dest ./out --db ./srcrecover.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecovery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dest, "dest", "", "destination source tree (required)")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "namespace root to harvest (overrides config)")
	cmd.Flags().StringVar(&opts.WorkDir, "work", "", "work directory to keep (default: temporary, removed afterwards)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func runRecovery(opts *RunOptions, archivePath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "srcrecover-work-*")
		if err != nil {
			return WrapExitError(ExitFailure, "failed to create work directory", err)
		}
		defer os.RemoveAll(workDir)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, err := opts.runner(cfg).Run(ctx, recovery.Request{
		Archive:   archivePath,
		WorkDir:   workDir,
		Dest:      opts.Dest,
		Namespace: opts.Namespace,
	})
	if err != nil {
		return f.Fail("recovery aborted", err)
	}

	if opts.Database != "" {
		if err := recordRun(context.WithoutCancel(ctx), opts.Database, report); err != nil {
			if outErr := f.Error(ErrCodeLedger, err.Error(), nil); outErr != nil {
				return outErr
			}
			return WrapExitError(ExitFailure, "failed to record run", err)
		}
		opts.logger().Info("run recorded", "db", opts.Database, "run", report.RunID)
	}

	if err := outputReport(f, report); err != nil {
		return err
	}
	return reportExit(report)
}

// recordRun writes the report to the ledger. It runs after cancellation too
// so interrupted runs are still recorded.
func recordRun(ctx context.Context, path string, report *recovery.Report) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	bundle, err := report.Bundle()
	if err != nil {
		return err
	}
	_, err = st.WriteRun(ctx, bundle)
	return err
}

func outputReport(f *OutputFormatter, report *recovery.Report) error {
	return f.Success(report, func(w io.Writer) error {
		return writeReport(w, report)
	})
}

// reportExit maps a finished run onto an exit code. Partial and failed
// units are best-effort results and exit 0.
func reportExit(report *recovery.Report) error {
	switch {
	case report.Cancelled:
		return NewExitError(ExitFailure, "interrupted")
	case report.ReconcileError != "":
		return NewExitError(ExitFailure, "reconcile failed: "+report.ReconcileError)
	}
	return nil
}

// TransformOptions holds flags for the transform command.
type TransformOptions struct {
	*RootOptions
	WorkDir string
}

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransformOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transform <archive>",
		Short: "Run the strategy chain without reconciling",
		Long: `Extract the units of an archive and run each through the strategy chain.
Candidate trees are left under <work>/candidates/<unit>/<strategy>.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WorkDir, "work", "", "work directory for units and candidates (required)")
	_ = cmd.MarkFlagRequired("work")
	return cmd
}

func runTransform(opts *TransformOptions, archivePath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, err := opts.runner(cfg).Run(ctx, recovery.Request{
		Archive: archivePath,
		WorkDir: opts.WorkDir,
	})
	if err != nil {
		return f.Fail("transform aborted", err)
	}
	if err := outputReport(f, report); err != nil {
		return err
	}
	return reportExit(report)
}
