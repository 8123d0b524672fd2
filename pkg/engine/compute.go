package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// Options controls one Compute call.
type Options struct {
	// Overrides replace registry nodes of the same name for this call.
	Overrides Overrides

	// ColumnsOverridingFunctions lists data columns that replace the function
	// of the same name. Undeclared collisions are a ConflictingColumnError.
	ColumnsOverridingFunctions []string

	// CheckMinimalSpecification controls how unused data columns are treated.
	CheckMinimalSpecification MinimalSpecPolicy

	// Debug turns data and evaluation failures into recorded node errors and
	// returns every column that could be computed.
	Debug bool

	// Rounding applies node rounding specs to outputs.
	Rounding bool

	// Logger receives engine logs. The zero value discards them.
	Logger zerolog.Logger

	// Observer receives progress callbacks. Nil disables them.
	Observer Observer
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := o.CheckMinimalSpecification.Validate(); err != nil {
		return err
	}
	for name, n := range o.Overrides {
		if n == nil {
			return NewInvalidNodeError(name, "override is nil")
		}
	}
	return nil
}

// Result is the outcome of a Compute call.
type Result struct {
	// Table holds the targets in request order, with the data's index column
	// first when present. In debug mode every other available name follows in
	// topological order.
	Table *table.Table

	// Errors holds the failed and propagated names of a debug run.
	Errors map[string]*NodeError

	// Warnings holds non-fatal findings.
	Warnings []string

	// Graph is the dependency graph that was evaluated.
	Graph *Graph

	// Status holds the final status of every graph name.
	Status map[string]NodeStatus

	// RunStatus summarises the call.
	RunStatus RunStatus

	// Duration is the wall time of the call.
	Duration time.Duration
}

// Failed returns the failed and propagated names, in topological order.
func (r *Result) Failed() []string {
	var out []string
	if r.Graph == nil {
		return out
	}
	for _, name := range r.Graph.Order() {
		if _, ok := r.Errors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Compute determines the functions needed for the targets, validates the
// inputs, evaluates the graph and returns the target columns.
//
// The function set is not modified; overrides apply to this call only.
func Compute(
	ctx context.Context,
	data *table.Table,
	functions *FunctionSet,
	targets []string,
	params Params,
	opts Options,
) (result *Result, err error) {
	start := time.Now()
	if data == nil {
		data = table.New()
	}
	if functions == nil {
		functions = &FunctionSet{nodes: map[string]*Node{}, inactive: map[string]bool{}}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	log := opts.Logger

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Compute",
		trace.WithAttributes(
			attribute.StringSlice("compute.targets", targets),
			attribute.Int("compute.rows", data.Len()),
			attribute.Bool("compute.debug", opts.Debug),
		),
	)
	defer func() {
		status := RunStatusSucceeded
		switch {
		case err != nil:
			status = RunStatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("code", CodeOf(err)).Msg("Computation failed")
		case len(result.Errors) > 0:
			status = RunStatusPartial
			span.SetStatus(codes.Ok, "partial")
		default:
			span.SetStatus(codes.Ok, "")
		}
		if result != nil {
			result.RunStatus = status
			result.Duration = time.Since(start)
		}
		opts.Observer.ComputeFinished(ctx, status, time.Since(start), err)
		span.End()
	}()

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
	log.Debug().
		Int("nodes", len(graph.Nodes)).
		Int("levels", graph.Depth()).
		Strs("leaves", graph.Leaves()).
		Msg("Built dependency graph")
	opts.Observer.ComputeStarted(ctx, graph.Targets, len(graph.Nodes))

	if conflicts := conflictingColumns(graph, data); len(conflicts) > 0 {
		conflictErr := NewConflictingColumnError(conflicts)
		if !opts.Debug {
			return nil, conflictErr
		}
		warnings = append(warnings, conflictErr.Error())
		log.Warn().Strs("columns", conflicts).Msg("Data columns shadowed by functions")
	}

	report, err := ValidateInputs(graph, data, params, opts)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, report.Warnings...)

	exec := NewExecutor(graph, data, params, opts)
	if err := exec.Run(ctx); err != nil {
		return nil, err
	}

	out, err := assembleTable(graph, data, exec, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble result: %w", err)
	}

	result = &Result{
		Table:    out,
		Errors:   exec.Errors(),
		Warnings: warnings,
		Graph:    graph,
		Status:   exec.Status(),
	}
	if len(result.Errors) > 0 {
		log.Warn().Strs("failed", result.Failed()).Msg("Computation finished with failures")
	} else {
		log.Debug().Strs("targets", graph.Targets).Msg("Computation finished")
	}
	return result, nil
}

// Compute resolves the functions active at date, then runs Compute.
func (r *Registry) Compute(
	ctx context.Context,
	data *table.Table,
	date time.Time,
	targets []string,
	params Params,
	opts Options,
) (*Result, error) {
	fs, err := r.Resolve(date, opts.Overrides)
	if err != nil {
		return nil, err
	}
	// Overrides stay set: Compute reapplies them ahead of declared data columns.
	return Compute(ctx, data, fs, targets, params, opts)
}

// assembleTable builds the output table: index first, then targets, then in
// debug mode every other available name.
func assembleTable(graph *Graph, data *table.Table, exec *Executor, debug bool) (*table.Table, error) {
	out := table.New()

	if idx := data.Index(); idx != "" {
		col, _ := data.Column(idx)
		if err := out.Set(idx, col); err != nil {
			return nil, err
		}
		if err := out.SetIndex(idx); err != nil {
			return nil, err
		}
	}

	for _, name := range graph.Targets {
		col, ok := exec.Column(name)
		if !ok {
			if debug {
				continue
			}
			return nil, fmt.Errorf("target %s was not computed", name)
		}
		if err := out.Set(name, col); err != nil {
			return nil, err
		}
	}

	if !debug {
		return out, nil
	}
	for _, name := range graph.Order() {
		if out.Has(name) {
			continue
		}
		if col, ok := exec.Column(name); ok {
			if err := out.Set(name, col); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// FirstError returns the root failure of a debug result, or nil.
func (r *Result) FirstError() error {
	for _, name := range r.Failed() {
		if ne := r.Errors[name]; ne.Status == NodeStatusFailed {
			return ne
		}
	}
	return nil
}

// ErrorsJoined returns every recorded node error joined into one error.
func (r *Result) ErrorsJoined() error {
	var errs []error
	for _, name := range r.Failed() {
		errs = append(errs, r.Errors[name])
	}
	return errors.Join(errs...)
}
