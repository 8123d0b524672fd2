package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

const validRun = `
#base: "functions"

run: {
	date:    "2023-07-01"
	targets: ["kindergeld_m_hh"]
	data: {
		path:  "persons.csv"
		index: "p_id"
		kinds: {hh_id: "int"}
	}
	functions: [#base + "/kindergeld.star", "/abs/other.star"]
	overrides: ["overrides.star"]
	columns_overriding_functions: ["kindergeld_anspruch"]
	params:  "params.cue"
	history: "history.db"
	output: path: "out/result.json"
	options: {
		debug:                       true
		check_minimal_specification: "raise"
		rounding:                    true
	}
}
`

func TestRunLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.cue", validRun)

	run, err := NewRunLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "2023-07-01", run.Date)
	assert.Equal(t, []string{"kindergeld_m_hh"}, run.Targets)
	assert.Equal(t, filepath.Join(dir, "persons.csv"), run.Data.Path)
	assert.Equal(t, "csv", run.Data.DataFormat())
	assert.Equal(t, map[string]string{"hh_id": "int"}, run.Data.Kinds)
	assert.Equal(t, []string{
		filepath.Join(dir, "functions", "kindergeld.star"),
		"/abs/other.star",
	}, run.Functions)
	assert.Equal(t, []string{filepath.Join(dir, "overrides.star")}, run.Overrides)
	assert.Equal(t, filepath.Join(dir, "params.cue"), run.Params)
	assert.Equal(t, filepath.Join(dir, "history.db"), run.History)
	require.NotNil(t, run.Output)
	assert.Equal(t, "json", run.Output.OutputFormat())

	date, err := run.PolicyDate()
	require.NoError(t, err)
	assert.Equal(t, 2023, date.Year())

	opts := run.EngineOptions()
	assert.True(t, opts.Debug)
	assert.True(t, opts.Rounding)
	assert.Equal(t, engine.MinimalSpecRaise, opts.CheckMinimalSpecification)
	assert.Equal(t, []string{"kindergeld_anspruch"}, opts.ColumnsOverridingFunctions)
}

func TestRunLoader_Parse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "syntax",
			content: `run: {`,
			want:    "run.cue",
		},
		{
			name:    "missing run",
			content: `other: 1`,
			want:    "missing top-level run field",
		},
		{
			name: "unknown field",
			content: `run: {
	date: "2023-07-01", targets: ["a"], data: path: "d.csv", functions: ["f.star"]
	colour: "blue"
}`,
			want: "colour",
		},
		{
			name: "bad date format",
			content: `run: {
	date: "July 2023", targets: ["a"], data: path: "d.csv", functions: ["f.star"]
}`,
			want: "date",
		},
		{
			name: "impossible date",
			content: `run: {
	date: "2023-02-30", targets: ["a"], data: path: "d.csv", functions: ["f.star"]
}`,
			want: "datetime",
		},
		{
			name: "sqlite without table",
			content: `run: {
	date: "2023-07-01", targets: ["a"], functions: ["f.star"]
	data: {path: "d.db", format: "sqlite"}
}`,
			want: "required_if",
		},
		{
			name: "no targets",
			content: `run: {
	date: "2023-07-01", targets: [], data: path: "d.csv", functions: ["f.star"]
}`,
			want: "targets",
		},
	}

	rl := NewRunLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rl.Parse("run.cue", []byte(tt.content), ".")
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			require.NotEmpty(t, cfgErr.Errors)
			assert.Contains(t, err.Error(), tt.want)

			assert.True(t, engine.IsConfigurationError(err))
			assert.Equal(t, engine.ExitEvaluation, engine.ExitCode(err))
		})
	}
}

func TestRunLoader_Load_MissingFile(t *testing.T) {
	_, err := NewRunLoader().Load(filepath.Join(t.TempDir(), "run.cue"))
	assert.ErrorContains(t, err, "failed to read run config")
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "bad"}, "bad"},
		{ValidationError{File: "run.cue", Path: "run.date", Message: "bad"}, "run.cue: run.date: bad"},
		{ValidationError{File: "run.cue", Line: 3, Column: 5, Message: "bad"}, "run.cue:3:5: bad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.String())
	}
}

func TestInferFormat(t *testing.T) {
	assert.Equal(t, "sqlite", DataSource{Path: "x.sqlite3"}.DataFormat())
	assert.Equal(t, "sqlite", DataSource{Path: "x.DB"}.DataFormat())
	assert.Equal(t, "csv", DataSource{Path: "x.txt"}.DataFormat())
	assert.Equal(t, "json", OutputConfig{Path: "x.csv", Format: "json"}.OutputFormat())
}
