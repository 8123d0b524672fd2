package engine

import (
	"fmt"
	"sort"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// ValidationReport partitions the graph's inputs against what was supplied.
type ValidationReport struct {
	// Present lists leaves found in the data, sorted.
	Present []string `json:"present" yaml:"present"`

	// Missing lists leaves absent from the data, sorted.
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`

	// MissingParams lists parameter keys read by graph nodes but not supplied, sorted.
	MissingParams []string `json:"missing_params,omitempty" yaml:"missing_params,omitempty"`

	// Unused lists data columns the targets do not need, sorted. The index
	// column is never reported.
	Unused []string `json:"unused,omitempty" yaml:"unused,omitempty"`

	// Warnings holds non-fatal findings.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// OK reports whether nothing is missing.
func (r *ValidationReport) OK() bool {
	return len(r.Missing) == 0 && len(r.MissingParams) == 0
}

// ValidateInputs checks the graph's leaves and parameters against the
// supplied data before anything runs. Every missing column and parameter is
// reported together in one MissingInputError. In debug mode missing inputs
// and unused columns become warnings instead.
func ValidateInputs(graph *Graph, data *table.Table, params Params, opts Options) (*ValidationReport, error) {
	if data == nil {
		data = table.New()
	}
	report := &ValidationReport{
		Present: make([]string, 0),
	}

	for _, leaf := range graph.Leaves() {
		if data.Has(leaf) {
			report.Present = append(report.Present, leaf)
		} else {
			report.Missing = append(report.Missing, leaf)
		}
	}
	keys := graph.Params()
	if opts.Rounding {
		keys = dedupe(append(keys, graph.RoundingParams()...))
		sort.Strings(keys)
	}
	for _, key := range keys {
		if !params.Has(key) {
			report.MissingParams = append(report.MissingParams, key)
		}
	}

	if err := checkLiteralShapes(graph, data); err != nil {
		return report, err
	}

	if !report.OK() {
		if !opts.Debug {
			return report, NewMissingInputError(report.Missing, report.MissingParams)
		}
		report.Warnings = append(report.Warnings,
			NewMissingInputError(report.Missing, report.MissingParams).Error())
	}

	for _, name := range data.Names() {
		if name == data.Index() {
			continue
		}
		if _, used := graph.Nodes[name]; !used {
			report.Unused = append(report.Unused, name)
		}
	}
	sort.Strings(report.Unused)

	if len(report.Unused) > 0 {
		unusedErr := NewUnusedInputError(report.Unused)
		switch opts.CheckMinimalSpecification {
		case MinimalSpecWarn:
			report.Warnings = append(report.Warnings, unusedErr.Error())
			opts.Logger.Warn().Strs("columns", report.Unused).Msg("Data columns not needed for targets")
		case MinimalSpecRaise:
			if !opts.Debug {
				return report, unusedErr
			}
			report.Warnings = append(report.Warnings, unusedErr.Error())
			opts.Logger.Warn().Strs("columns", report.Unused).Msg("Data columns not needed for targets")
		}
	}

	return report, nil
}

// checkLiteralShapes verifies that literal overrides match the data row count,
// or each other when the data has no columns.
func checkLiteralShapes(graph *Graph, data *table.Table) error {
	want := -1
	if data.Width() > 0 {
		want = data.Len()
	}
	for _, name := range graph.Literals() {
		got := graph.Nodes[name].Node.Column.Len()
		if want < 0 {
			want = got
			continue
		}
		if got != want {
			return NewShapeMismatchError(name, want, got)
		}
	}
	return nil
}

// applyDataOverrides turns data columns declared in ColumnsOverridingFunctions
// into literal overrides. Declared names absent from the data are returned as
// missing.
func applyDataOverrides(fs *FunctionSet, data *table.Table, opts Options) (*FunctionSet, []string, []string, error) {
	if len(opts.ColumnsOverridingFunctions) == 0 {
		return fs, nil, nil, nil
	}

	overrides := make(Overrides, len(opts.ColumnsOverridingFunctions))
	var missing, warnings []string
	for _, name := range dedupe(opts.ColumnsOverridingFunctions) {
		col, ok := data.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if _, isFunction := fs.Lookup(name); !isFunction && !fs.IsInactive(name) {
			warnings = append(warnings, fmt.Sprintf("column %s is declared as overriding a function, but no such function exists", name))
		}
		if _, explicit := opts.Overrides[name]; explicit {
			continue
		}
		overrides[name] = Literal(name, col)
	}

	out, err := fs.WithOverrides(overrides)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, missing, warnings, nil
}

// conflictingColumns returns data columns that the graph computes instead of
// reading. Columns declared as overriding functions never conflict.
func conflictingColumns(graph *Graph, data *table.Table) []string {
	var conflicts []string
	for _, name := range data.Names() {
		n, ok := graph.Nodes[name]
		if !ok || n.Node == nil || n.Node.Kind == NodeKindColumn {
			continue
		}
		conflicts = append(conflicts, name)
	}
	sort.Strings(conflicts)
	return conflicts
}
