package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/dexheader"
	"github.com/roach88/srcrecover/internal/recovery"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	OutDir string
}

// ExtractResult is the extract command payload.
type ExtractResult struct {
	Archive string          `json:"archive"`
	Entries []archive.Entry `json:"entries,omitempty"`
	Units   []archive.Unit  `json:"units,omitempty"`
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "List or extract the bytecode units of an archive",
		Long: `List the bytecode units of a distribution archive. With --out the units
are written to that directory and their digests are printed.

Examples:
  srcrecover extract app-release.apk
  srcrecover extract app-release.apk --out ./units`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "directory to extract units into")
	return cmd
}

func runExtract(opts *ExtractOptions, archivePath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	archiveOpts := archive.Options{Patterns: cfg.UnitPatterns}
	result := ExtractResult{Archive: archivePath}

	if opts.OutDir == "" {
		entries, err := archive.List(archivePath)
		if err != nil {
			return f.Fail("failed to read archive", err)
		}
		for _, e := range entries {
			if archiveOpts.Matches(e.Name) {
				result.Entries = append(result.Entries, e)
			}
		}
		if len(result.Entries) == 0 {
			return f.Fail("failed to read archive", fmt.Errorf("%w: %s", archive.ErrNoUnits, archivePath))
		}
		return f.Success(result, func(w io.Writer) error {
			tw := newTable(w)
			fmt.Fprintln(tw, "UNIT\tSIZE")
			for _, e := range result.Entries {
				fmt.Fprintf(tw, "%s\t%d\n", e.Name, e.Size)
			}
			return tw.Flush()
		})
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	units, err := archive.Extract(ctx, archivePath, opts.OutDir, archiveOpts)
	if err != nil {
		return f.Fail("failed to extract archive", err)
	}
	for _, u := range units {
		f.VerboseLog("extracted %s (%d bytes) to %s", u.Name, u.Size, u.Path)
	}
	result.Units = units
	return f.Success(result, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "UNIT\tSIZE\tDIGEST\tPATH")
		for _, u := range units {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", u.Name, u.Size, u.Digest, u.Path)
		}
		return tw.Flush()
	})
}

// InspectRow is one unit's header check.
type InspectRow struct {
	Unit   string                `json:"unit"`
	Size   int64                 `json:"size"`
	Header *dexheader.Descriptor `json:"header,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print the header descriptors of every unit",
		Long: `Extract the units of an archive to a scratch directory and print the
magic, version and section descriptors of each header. Units with an invalid
header are reported, not fatal.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
}

func runInspect(opts *RootOptions, archivePath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "srcrecover-inspect-*")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	ctx, cancel := signalContext(cmd)
	defer cancel()
	units, err := archive.Extract(ctx, archivePath, scratch, archive.Options{Patterns: cfg.UnitPatterns})
	if err != nil {
		return f.Fail("failed to extract archive", err)
	}

	var rows []InspectRow
	for _, in := range recovery.Inspect(units) {
		row := InspectRow{Unit: in.Unit.Name, Size: in.Unit.Size, Header: in.Header}
		if in.Err != nil {
			row.Error = in.Err.Error()
			opts.logger().Warn("unreadable header", "unit", in.Unit.Name, "error", in.Err)
		} else if in.Header != nil {
			f.VerboseLog("%s: dex %s", in.Unit.Name, in.Header.Version)
		}
		rows = append(rows, row)
	}

	return f.Success(rows, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "UNIT\tVERSION\tSTRINGS\tTYPES\tCLASSES\tERROR")
		for _, r := range rows {
			if r.Header == nil {
				fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s\n", r.Unit, dash(r.Error))
				continue
			}
			h := r.Header
			fmt.Fprintf(tw, "%s\t%s\t%d@%#x\t%d@%#x\t%d@%#x\t%s\n", r.Unit, h.Version,
				h.SymbolCount, h.SymbolOffset, h.TypeCount, h.TypeOffset,
				h.DefinitionCount, h.DefinitionOffset, dash(r.Error))
		}
		return tw.Flush()
	})
}
