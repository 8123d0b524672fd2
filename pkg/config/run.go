package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// RunLoader parses and validates run configuration files written in CUE.
// A run file holds a single top-level "run" struct; other fields are free
// for CUE definitions and shared values.
type RunLoader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewRunLoader creates a new run configuration loader.
func NewRunLoader() *RunLoader {
	ctx := cuecontext.New()
	return &RunLoader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry.
func (rl *RunLoader) Schemas() *SchemaRegistry {
	return rl.schemas
}

// Load reads a run file. Relative paths inside it are resolved against the
// file's directory.
func (rl *RunLoader) Load(path string) (*RunConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	return rl.Parse(path, content, filepath.Dir(path))
}

// Parse parses run configuration content. filename is used in error
// positions; relative paths are resolved against baseDir.
func (rl *RunLoader) Parse(filename string, content []byte, baseDir string) (*RunConfig, error) {
	val := rl.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ConfigError{Errors: convertCUEErrors(err)}
	}

	runVal := val.LookupPath(cue.ParsePath("run"))
	if !runVal.Exists() {
		return nil, &ConfigError{Errors: []ValidationError{{
			File:    filename,
			Message: "missing top-level run field",
		}}}
	}

	if err := rl.schemas.ValidateValue("run", runVal); err != nil {
		return nil, &ConfigError{Errors: convertCUEErrors(err)}
	}

	var run RunConfig
	if err := runVal.Decode(&run); err != nil {
		return nil, &ConfigError{Errors: []ValidationError{{
			File:    filename,
			Path:    "run",
			Message: fmt.Sprintf("failed to decode: %v", err),
		}}}
	}

	if err := rl.validator.Struct(run); err != nil {
		return nil, &ConfigError{Errors: convertValidatorErrors(filename, err)}
	}

	if _, err := run.PolicyDate(); err != nil {
		return nil, &ConfigError{Errors: []ValidationError{{
			File:    filename,
			Path:    "run.date",
			Message: err.Error(),
		}}}
	}

	run.resolvePaths(baseDir)
	return &run, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		v := ValidationError{Message: e.Error()}
		if pos := errors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		if p := e.Path(); len(p) > 0 {
			v.Path = strings.Join(p, ".")
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// convertValidatorErrors converts struct tag failures to ValidationError slice.
func convertValidatorErrors(filename string, err error) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{File: filename, Message: err.Error()}}
	}

	out := make([]ValidationError, len(verrs))
	for i, fe := range verrs {
		out[i] = ValidationError{
			File:    filename,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}
	}
	return out
}
