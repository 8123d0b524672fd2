package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

// RunConfig describes one computation: where the data and functions come
// from, which targets to compute at which date, and where results go.
type RunConfig struct {
	// Date selects the active version of every time-versioned function.
	Date string `json:"date" validate:"required,datetime=2006-01-02"`

	// Targets are the names to compute.
	Targets []string `json:"targets" validate:"required,min=1,dive,required"`

	// Data is the input table.
	Data DataSource `json:"data" validate:"required"`

	// Functions are Starlark modules registering the function registry.
	Functions []string `json:"functions" validate:"required,min=1,dive,required"`

	// Overrides are Starlark modules whose nodes replace registry entries.
	Overrides []string `json:"overrides,omitempty" validate:"omitempty,dive,required"`

	// ColumnsOverridingFunctions are data columns that replace functions of
	// the same name.
	ColumnsOverridingFunctions []string `json:"columns_overriding_functions,omitempty" validate:"omitempty,dive,required"`

	// Params is a CUE or YAML parameter file.
	Params string `json:"params,omitempty"`

	// Output is where the result table is written. Nil writes CSV to stdout.
	Output *OutputConfig `json:"output,omitempty"`

	// History is a SQLite database recording run history.
	History string `json:"history,omitempty"`

	// Options control engine behavior.
	Options RunOptions `json:"options"`
}

// DataSource locates the input table.
type DataSource struct {
	// Path is a CSV file or a SQLite database.
	Path string `json:"path" validate:"required"`

	// Format is csv or sqlite; empty infers it from the extension.
	Format string `json:"format,omitempty" validate:"omitempty,oneof=csv sqlite"`

	// Table is the SQLite table to read.
	Table string `json:"table,omitempty" validate:"required_if=Format sqlite"`

	// Index names the id column.
	Index string `json:"index,omitempty"`

	// Kinds forces the kind of individual CSV columns.
	Kinds map[string]string `json:"kinds,omitempty" validate:"omitempty,dive,oneof=float int bool string"`
}

// OutputConfig locates the result table.
type OutputConfig struct {
	// Path is the output file or SQLite database.
	Path string `json:"path" validate:"required"`

	// Format is csv, json or sqlite; empty infers it from the extension.
	Format string `json:"format,omitempty" validate:"omitempty,oneof=csv json sqlite"`

	// Table is the SQLite table to write.
	Table string `json:"table,omitempty" validate:"required_if=Format sqlite"`
}

// RunOptions mirror engine.Options.
type RunOptions struct {
	Debug                     bool   `json:"debug"`
	CheckMinimalSpecification string `json:"check_minimal_specification,omitempty" validate:"omitempty,oneof=ignore warn raise"`
	Rounding                  bool   `json:"rounding"`
}

// PolicyDate parses Date.
func (c *RunConfig) PolicyDate() (time.Time, error) {
	d, err := time.Parse(engine.DateLayout, c.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", c.Date, err)
	}
	return d, nil
}

// EngineOptions converts the run options. Logger and Observer are left for
// the caller.
func (c *RunConfig) EngineOptions() engine.Options {
	return engine.Options{
		ColumnsOverridingFunctions: c.ColumnsOverridingFunctions,
		CheckMinimalSpecification:  engine.MinimalSpecPolicy(c.Options.CheckMinimalSpecification),
		Debug:                      c.Options.Debug,
		Rounding:                   c.Options.Rounding,
	}
}

// resolvePaths makes every relative path relative to dir.
func (c *RunConfig) resolvePaths(dir string) {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == "-" {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Data.Path = join(c.Data.Path)
	for i := range c.Functions {
		c.Functions[i] = join(c.Functions[i])
	}
	for i := range c.Overrides {
		c.Overrides[i] = join(c.Overrides[i])
	}
	c.Params = join(c.Params)
	c.History = join(c.History)
	if c.Output != nil {
		c.Output.Path = join(c.Output.Path)
	}
}

// DataFormat returns the explicit or inferred data format.
func (d DataSource) DataFormat() string {
	return inferFormat(d.Format, d.Path)
}

// OutputFormat returns the explicit or inferred output format.
func (o OutputConfig) OutputFormat() string {
	return inferFormat(o.Format, o.Path)
}

func inferFormat(format, path string) string {
	if format != "" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	case ".json":
		return "json"
	default:
		return "csv"
	}
}

// ValidationError is a configuration problem with its source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g. "run.data.path").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// ConfigError collects every problem found in a configuration file. It is
// classified as a configuration error by the engine.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		parts[i] = v.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// ErrorClass implements engine classification.
func (e *ConfigError) ErrorClass() engine.ErrorClass {
	return engine.ErrorClassConfiguration
}

// ErrorCode implements engine classification.
func (e *ConfigError) ErrorCode() string {
	return "INVALID_CONFIG"
}
