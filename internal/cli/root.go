// Package cli implements the srcrecover command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/config"
	"github.com/roach88/srcrecover/internal/recovery"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Logger is installed by the root command; tests may preset it.
	Logger *slog.Logger

	// started is set once flags and arguments have been accepted.
	started bool

	// NewRunner overrides how run and transform build their runner (for
	// testing). If nil, defaults to recovery.NewRunner.
	NewRunner func(cfg *config.Config, logger *slog.Logger) *recovery.Runner
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the srcrecover CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI with os.Args and returns the process exit code.
// Errors cobra reports before a command starts (unknown flags, missing
// arguments) are usage errors.
func Execute() int {
	opts := &RootOptions{}
	err := newRootCommand(opts).Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if !opts.started {
		return ExitCommandError
	}
	return ExitFailure
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "srcrecover",
		Short: "Recover source trees from Android distributions",
		Long: `srcrecover extracts the bytecode units of an APK, runs them through a
chain of decompiler strategies and reconciles the recovered sources into a
destination tree, replacing placeholder stubs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.started = true
			opts.installLogger(cmd)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $"+config.EnvConfig+")")

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewResolveToolsCommand(opts))
	cmd.AddCommand(NewTransformCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func (o *RootOptions) installLogger(cmd *cobra.Command) {
	if o.Logger != nil {
		return
	}
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *RootOptions) runner(cfg *config.Config) *recovery.Runner {
	if o.NewRunner != nil {
		return o.NewRunner(cfg, o.logger())
	}
	return recovery.NewRunner(cfg, o.logger())
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves --config, $SRCRECOVER_CONFIG or the built-in defaults.
func (o *RootOptions) loadConfig(f *OutputFormatter) (*config.Config, error) {
	cfg, err := config.Resolve(o.ConfigPath)
	if err != nil {
		if outErr := f.Error(ErrCodeConfig, err.Error(), nil); outErr != nil {
			return nil, outErr
		}
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
