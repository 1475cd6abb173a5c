package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/srcrecover/internal/toolchain"
)

// ResolveToolsOptions holds flags for the resolve-tools command.
type ResolveToolsOptions struct {
	*RootOptions
	CacheDir string
}

// ToolRow is the resolution of one capability.
type ToolRow struct {
	Capability string           `json:"capability"`
	Path       string           `json:"path,omitempty"`
	Origin     toolchain.Origin `json:"origin,omitempty"`
	Runtime    string           `json:"runtime,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ResolveToolsResult is the resolve-tools payload.
type ResolveToolsResult struct {
	Tools   []ToolRow                `json:"tools"`
	Fetches []toolchain.FetchAttempt `json:"fetches"`
}

// NewResolveToolsCommand creates the resolve-tools command.
func NewResolveToolsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveToolsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve-tools [capability...]",
		Short: "Locate or download the external tools",
		Long: `Resolve capabilities to runnable tools: search paths first, then PATH, then
the tool cache, then each remote mirror in order. With no arguments every
capability used by the configured strategies is resolved.

Examples:
  srcrecover resolve-tools
  srcrecover resolve-tools cfr --cache ~/.cache/srcrecover/tools`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolveTools(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CacheDir, "cache", "", "tool cache directory (overrides config)")
	return cmd
}

func runResolveTools(opts *ResolveToolsOptions, capabilities []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}
	if len(capabilities) == 0 {
		capabilities = cfg.Capabilities()
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	resolver := toolchain.NewFromConfig(cfg, opts.logger())

	result := ResolveToolsResult{}
	unavailable := 0
	for _, capability := range capabilities {
		row := ToolRow{Capability: capability}
		tool, err := resolver.Resolve(ctx, capability)
		if err != nil {
			row.Error = err.Error()
			unavailable++
		} else {
			row.Path = tool.Path
			row.Origin = tool.Origin
			if tool.Runtime != nil {
				row.Runtime = tool.Runtime.Capability
			}
		}
		result.Tools = append(result.Tools, row)
	}
	result.Fetches = resolver.Attempts()
	if result.Fetches == nil {
		result.Fetches = []toolchain.FetchAttempt{}
	}

	err = f.Success(result, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "CAPABILITY\tORIGIN\tPATH")
		for _, r := range result.Tools {
			if r.Error != "" {
				fmt.Fprintf(tw, "%s\t-\t%s\n", r.Capability, r.Error)
				continue
			}
			path := r.Path
			if r.Runtime != "" {
				path += " (via " + r.Runtime + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Capability, r.Origin, path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(result.Fetches) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "fetches:")
			return writeFetches(w, result.Fetches)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if unavailable > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d capabilities unavailable", unavailable, len(capabilities)))
	}
	return nil
}
