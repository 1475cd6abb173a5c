// Package config loads srcrecover configuration.
//
// Configuration comes from one YAML file named by --config or the
// SRCRECOVER_CONFIG environment variable. The raw document is validated
// against an embedded CUE schema before it is decoded, then decoded over
// Default() so a file only needs the keys it changes. Without a file the
// defaults describe the usual decompiler toolchain (jadx, cfr, dex2jar).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "SRCRECOVER_CONFIG"

var ErrInvalidConfig = errors.New("config: invalid configuration")

// SourceKind says where a tool comes from.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
)

// Source is one place a capability can be acquired from.
type Source struct {
	Kind SourceKind `yaml:"kind" json:"kind"`
	// Location is an absolute path or executable name (local) or a URL
	// (remote).
	Location string `yaml:"location" json:"location"`
	// Entry names the executable inside a fetched .zip bundle.
	Entry string `yaml:"entry,omitempty" json:"entry,omitempty"`
}

// Tool describes how to obtain one capability.
type Tool struct {
	// Runtime names the capability that launches this tool (e.g. "java"
	// for jar tools). Empty means the tool is executed directly.
	Runtime string   `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Sources []Source `yaml:"sources" json:"sources"`
}

// Step is one tool invocation inside a strategy.
type Step struct {
	Tool     string   `yaml:"tool" json:"tool"`
	Args     []string `yaml:"args" json:"args"`
	Produces string   `yaml:"produces,omitempty" json:"produces,omitempty"`
}

// Strategy is an ordered list of steps; strategies are tried in file order.
type Strategy struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Reconcile holds destination-tree settings.
type Reconcile struct {
	Namespace             string   `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	SourceExtensions      []string `yaml:"source_extensions,omitempty" json:"source_extensions,omitempty"`
	PlaceholderExtensions []string `yaml:"placeholder_extensions,omitempty" json:"placeholder_extensions,omitempty"`
}

// Config is the full configuration.
type Config struct {
	Workers      int             `yaml:"workers" json:"workers"`
	SearchPaths  []string        `yaml:"search_paths" json:"search_paths"`
	CacheDir     string          `yaml:"cache_dir" json:"cache_dir"`
	FetchTimeout Duration        `yaml:"fetch_timeout" json:"fetch_timeout"`
	StepTimeout  Duration        `yaml:"step_timeout" json:"step_timeout"`
	UnitPatterns []string        `yaml:"unit_patterns" json:"unit_patterns"`
	Tools        map[string]Tool `yaml:"tools" json:"tools"`
	Strategies   []Strategy      `yaml:"strategies" json:"strategies"`
	Reconcile    Reconcile       `yaml:"reconcile" json:"reconcile"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Resolve loads the file at path, or the file named by SRCRECOVER_CONFIG
// when path is empty, or returns Default() when neither is set.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

// LoadFile reads, schema-checks and decodes a YAML config over Default().
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse validates data against the schema and decodes it over Default().
func Parse(name string, data []byte) (*Config, error) {
	if err := CheckSchema(name, data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross references the schema cannot express.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	for name, tool := range c.Tools {
		if tool.Runtime != "" {
			if _, ok := c.Tools[tool.Runtime]; !ok {
				return fmt.Errorf("%w: tool %q: unknown runtime %q", ErrInvalidConfig, name, tool.Runtime)
			}
			if c.runtimeCycle(name) {
				return fmt.Errorf("%w: tool %q: runtime chain loops", ErrInvalidConfig, name)
			}
		}
		for i, src := range tool.Sources {
			if src.Kind != SourceLocal && src.Kind != SourceRemote {
				return fmt.Errorf("%w: tool %q source %d: kind %q", ErrInvalidConfig, name, i, src.Kind)
			}
			if src.Location == "" {
				return fmt.Errorf("%w: tool %q source %d: empty location", ErrInvalidConfig, name, i)
			}
		}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, strategy := range c.Strategies {
		if seen[strategy.Name] {
			return fmt.Errorf("%w: duplicate strategy %q", ErrInvalidConfig, strategy.Name)
		}
		seen[strategy.Name] = true
		if len(strategy.Steps) == 0 {
			return fmt.Errorf("%w: strategy %q has no steps", ErrInvalidConfig, strategy.Name)
		}
		for _, step := range strategy.Steps {
			if _, ok := c.Tools[step.Tool]; !ok {
				return fmt.Errorf("%w: strategy %q: unknown tool %q", ErrInvalidConfig, strategy.Name, step.Tool)
			}
		}
	}
	return nil
}

func (c *Config) runtimeCycle(name string) bool {
	seen := map[string]bool{name: true}
	for next := c.Tools[name].Runtime; next != ""; next = c.Tools[next].Runtime {
		if seen[next] {
			return true
		}
		seen[next] = true
	}
	return false
}

// Capabilities returns the tool names referenced by strategies, in first-use
// order, followed by their runtimes.
func (c *Config) Capabilities() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, strategy := range c.Strategies {
		for _, step := range strategy.Steps {
			add(step.Tool)
		}
	}
	for _, name := range append([]string(nil), out...) {
		add(c.Tools[name].Runtime)
	}
	return out
}
