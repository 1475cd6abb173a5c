package pipeline

import (
	"strings"

	"github.com/roach88/srcrecover/internal/config"
)

// Step is one tool invocation. Args and Produces may contain the
// placeholders {input}, {output}, {work} and {stem}.
type Step struct {
	Tool     string   `json:"tool"`
	Args     []string `json:"args"`
	Produces string   `json:"produces,omitempty"`
}

// Strategy is an ordered list of steps that together turn one unit into a
// candidate source tree. A single-step strategy is a direct transform; a
// multi-step one stages through intermediate files in {work}.
type Strategy struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Capabilities returns the distinct tools the strategy needs, in step order.
func (s Strategy) Capabilities() []string {
	var out []string
	seen := make(map[string]bool, len(s.Steps))
	for _, step := range s.Steps {
		if !seen[step.Tool] {
			seen[step.Tool] = true
			out = append(out, step.Tool)
		}
	}
	return out
}

// StrategiesFromConfig converts configured strategies, keeping their order.
func StrategiesFromConfig(in []config.Strategy) []Strategy {
	out := make([]Strategy, 0, len(in))
	for _, cs := range in {
		s := Strategy{Name: cs.Name, Steps: make([]Step, 0, len(cs.Steps))}
		for _, step := range cs.Steps {
			s.Steps = append(s.Steps, Step{
				Tool:     step.Tool,
				Args:     append([]string(nil), step.Args...),
				Produces: step.Produces,
			})
		}
		out = append(out, s)
	}
	return out
}

// vars holds placeholder values for one (unit, strategy) attempt.
type vars struct {
	input  string
	output string
	work   string
	stem   string
}

func (v vars) expand(s string) string {
	return strings.NewReplacer(
		"{input}", v.input,
		"{output}", v.output,
		"{work}", v.work,
		"{stem}", v.stem,
	).Replace(s)
}

func (v vars) expandAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = v.expand(a)
	}
	return out
}
