package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// Schema is the CUE definition every config file must satisfy.
const Schema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Source: {
	kind:     "local" | "remote"
	location: string & !=""
	entry?:   string
}

#Tool: {
	runtime?: string
	sources: [...#Source]
}

#Step: {
	tool:      string & !=""
	args:      [...string]
	produces?: string
}

#Strategy: {
	name:  string & !=""
	steps: [#Step, ...#Step]
}

#Config: {
	workers?:       int & >=0
	search_paths?:  [...string]
	cache_dir?:     string
	fetch_timeout?: #Duration
	step_timeout?:  #Duration
	unit_patterns?: [...string]
	tools?: [string]: #Tool
	strategies?: [...#Strategy]
	reconcile?: {
		namespace?:              string
		source_extensions?:      [...string]
		placeholder_extensions?: [...string]
	}
}
`

// CheckSchema validates a raw YAML document against #Config.
func CheckSchema(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(Schema, cue.Filename("srcrecover-schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	// Empty documents are valid and mean "all defaults".
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, name, describe(err))
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, name, describe(err))
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, name, describe(err))
	}
	return nil
}

func describe(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
