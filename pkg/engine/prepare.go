package engine

import (
	"github.com/taxgraph/taxgraph/pkg/table"
)

// Prepared holds everything Compute establishes before evaluating a node.
type Prepared struct {
	// Functions is the function set after overrides and data overrides.
	Functions *FunctionSet

	// Graph is the dependency graph for the targets.
	Graph *Graph

	// Report describes the inputs the graph needs.
	Report *ValidationReport

	// Warnings holds non-fatal findings.
	Warnings []string
}

// Prepare applies overrides, builds the graph for targets and validates the
// inputs without evaluating anything. It fails exactly where Compute would
// fail before execution.
func Prepare(data *table.Table, functions *FunctionSet, targets []string, params Params, opts Options) (*Prepared, error) {
	if data == nil {
		data = table.New()
	}
	if functions == nil {
		functions = &FunctionSet{nodes: map[string]*Node{}, inactive: map[string]bool{}}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	fs, err := functions.WithOverrides(opts.Overrides)
	if err != nil {
		return nil, err
	}

	fs, missingDeclared, warnings, err := applyDataOverrides(fs, data, opts)
	if err != nil {
		return nil, err
	}
	if len(missingDeclared) > 0 && !opts.Debug {
		return nil, NewMissingInputError(missingDeclared, nil)
	}

	graph, err := NewGraphBuilder(fs, data.Names()).Build(targets)
	if err != nil {
		return nil, err
	}

	if conflicts := conflictingColumns(graph, data); len(conflicts) > 0 {
		conflictErr := NewConflictingColumnError(conflicts)
		if !opts.Debug {
			return nil, conflictErr
		}
		warnings = append(warnings, conflictErr.Error())
	}

	report, err := ValidateInputs(graph, data, params, opts)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Functions: fs,
		Graph:     graph,
		Report:    report,
		Warnings:  append(warnings, report.Warnings...),
	}, nil
}
