// Package toolchain locates the external decompilers a run needs.
//
// A capability (e.g. "jadx") resolves in this order: an explicit path or a
// file in one of the search directories, the executable search path, the
// on-disk cache of earlier downloads, and finally each configured mirror in
// turn. Every mirror request is recorded as a FetchAttempt.
//
// Resolution is memoized per Resolver, failures included, and concurrent
// requests for the same capability share one resolution.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/srcrecover/internal/config"
)

// ErrToolUnavailable matches every *UnavailableError.
var ErrToolUnavailable = errors.New("toolchain: tool unavailable")

// Origin records where a tool was found.
type Origin string

const (
	OriginSearch Origin = "search"
	OriginPath   Origin = "path"
	OriginCache  Origin = "cache"
	OriginRemote Origin = "remote"
)

// Tool is a resolved capability.
type Tool struct {
	Capability string `json:"capability"`
	Path       string `json:"path"`
	Origin     Origin `json:"origin"`
	// Runtime launches Path when set; jar tools run as "java -jar Path".
	Runtime *Tool `json:"runtime,omitempty"`
}

// Command returns the executable and argument vector that run the tool
// with args.
func (t Tool) Command(args []string) (string, []string) {
	if t.Runtime == nil {
		return t.Path, append([]string(nil), args...)
	}
	argv := make([]string, 0, len(args)+2)
	argv = append(argv, "-jar", t.Path)
	argv = append(argv, args...)
	return t.Runtime.Path, argv
}

// FetchAttempt records one mirror request.
type FetchAttempt struct {
	Capability string        `json:"capability"`
	URL        string        `json:"url"`
	Succeeded  bool          `json:"succeeded"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

// UnavailableError reports a capability that no source could provide.
type UnavailableError struct {
	Capability string
	Reason     string
	Attempts   []FetchAttempt
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("toolchain: %s unavailable: %s", e.Capability, e.Reason)
	if n := len(e.Attempts); n > 0 {
		msg += fmt.Sprintf(" (%d mirror attempts)", n)
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrToolUnavailable
}

// Options configures a Resolver.
type Options struct {
	Tools        map[string]config.Tool
	SearchPaths  []string
	CacheDir     string
	FetchTimeout time.Duration
	Client       *http.Client
	Logger       *slog.Logger
	// LookPath searches the executable path. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Now stamps fetch attempts. Defaults to time.Now.
	Now func() time.Time
}

type resolution struct {
	tool Tool
	err  error
}

// Resolver resolves capabilities to runnable tools. It is safe for
// concurrent use.
type Resolver struct {
	opts   Options
	logger *slog.Logger

	group    singleflight.Group
	resolved sync.Map // capability -> resolution

	mu       sync.Mutex
	attempts []FetchAttempt
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{opts: opts, logger: logger}
}

// NewFromConfig creates a Resolver for cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Resolver {
	return New(Options{
		Tools:        cfg.Tools,
		SearchPaths:  cfg.SearchPaths,
		CacheDir:     cfg.CacheDir,
		FetchTimeout: cfg.FetchTimeout.Duration,
		Logger:       logger,
	})
}

// Resolve returns the tool for capability. A capability that failed once
// fails again without new lookups for the lifetime of the Resolver, unless
// the failure was a cancellation of ctx.
func (r *Resolver) Resolve(ctx context.Context, capability string) (Tool, error) {
	if v, ok := r.resolved.Load(capability); ok {
		res := v.(resolution)
		return res.tool, res.err
	}

	v, err, _ := r.group.Do(capability, func() (any, error) {
		if v, ok := r.resolved.Load(capability); ok {
			return v.(resolution).tool, v.(resolution).err
		}
		tool, err := r.resolve(ctx, capability)
		if ctx.Err() == nil {
			r.resolved.Store(capability, resolution{tool: tool, err: err})
		}
		return tool, err
	})
	tool, _ := v.(Tool)
	return tool, err
}

// Attempts returns every mirror request made so far, in completion order.
func (r *Resolver) Attempts() []FetchAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchAttempt(nil), r.attempts...)
}

func (r *Resolver) resolve(ctx context.Context, capability string) (Tool, error) {
	spec, ok := r.opts.Tools[capability]
	if !ok {
		return Tool{}, &UnavailableError{Capability: capability, Reason: "unknown capability"}
	}

	var runtime *Tool
	if spec.Runtime != "" {
		rt, err := r.Resolve(ctx, spec.Runtime)
		if err != nil {
			if ctx.Err() != nil {
				return Tool{}, ctx.Err()
			}
			return Tool{}, &UnavailableError{
				Capability: capability,
				Reason:     fmt.Sprintf("runtime %s: %v", spec.Runtime, err),
			}
		}
		runtime = &rt
	}

	tool, err := r.locate(ctx, capability, spec)
	if err != nil {
		return Tool{}, err
	}
	tool.Runtime = runtime
	r.logger.Debug("resolved tool",
		"capability", capability,
		"path", tool.Path,
		"origin", tool.Origin,
	)
	return tool, nil
}

func (r *Resolver) locate(ctx context.Context, capability string, spec config.Tool) (Tool, error) {
	for _, src := range spec.Sources {
		if src.Kind != config.SourceLocal {
			continue
		}
		if path, origin, ok := r.findLocal(src.Location); ok {
			return Tool{Capability: capability, Path: path, Origin: origin}, nil
		}
	}

	for _, src := range spec.Sources {
		if src.Kind != config.SourceRemote || r.opts.CacheDir == "" {
			continue
		}
		if path, ok := r.findCached(capability, src); ok {
			return Tool{Capability: capability, Path: path, Origin: OriginCache}, nil
		}
	}

	var attempts []FetchAttempt
	for _, src := range spec.Sources {
		if src.Kind != config.SourceRemote {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Tool{}, err
		}
		if r.opts.CacheDir == "" {
			break
		}
		path, attempt := r.fetch(ctx, capability, src)
		attempts = append(attempts, attempt)
		r.record(attempt)
		if attempt.Succeeded {
			return Tool{Capability: capability, Path: path, Origin: OriginRemote}, nil
		}
		if err := ctx.Err(); err != nil {
			return Tool{}, err
		}
	}

	reason := "no local copy found"
	if len(attempts) > 0 {
		reason = "no local copy found and every mirror failed"
	}
	return Tool{}, &UnavailableError{Capability: capability, Reason: reason, Attempts: attempts}
}

// findLocal checks an explicit path, then each search directory, then the
// executable search path.
func (r *Resolver) findLocal(location string) (string, Origin, bool) {
	if filepath.IsAbs(location) || strings.ContainsRune(location, filepath.Separator) {
		if isFile(location) {
			return location, OriginSearch, true
		}
		return "", "", false
	}
	for _, dir := range r.opts.SearchPaths {
		candidate := filepath.Join(dir, location)
		if isFile(candidate) {
			if abs, err := filepath.Abs(candidate); err == nil {
				candidate = abs
			}
			return candidate, OriginSearch, true
		}
	}
	if path, err := r.opts.LookPath(location); err == nil {
		return path, OriginPath, true
	}
	return "", "", false
}

func (r *Resolver) findCached(capability string, src config.Source) (string, bool) {
	target := r.cachePath(capability, src)
	if !isBundle(src.Location) {
		return target, isFile(target)
	}
	path, err := findEntry(target, src.Entry)
	return path, err == nil
}

func (r *Resolver) record(attempt FetchAttempt) {
	r.mu.Lock()
	r.attempts = append(r.attempts, attempt)
	r.mu.Unlock()

	if attempt.Succeeded {
		r.logger.Info("fetched tool", "capability", attempt.Capability, "url", attempt.URL, "duration", attempt.Duration)
		return
	}
	r.logger.Warn("mirror failed", "capability", attempt.Capability, "url", attempt.URL, "error", attempt.Error)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
