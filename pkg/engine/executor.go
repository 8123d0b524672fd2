package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taxgraph/taxgraph/pkg/table"
)

const tracerName = "github.com/taxgraph/taxgraph/pkg/engine"

// NodeError records why a name has no column in a debug run.
type NodeError struct {
	// Name is the failed name.
	Name string `json:"name"`

	// Status is failed or propagated.
	Status NodeStatus `json:"status"`

	// Err is the classified failure.
	Err error `json:"-"`

	// Causes lists the root failures, sorted. For a failed node it is the
	// node itself.
	Causes []string `json:"causes,omitempty"`
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Name, e.Status, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// Executor evaluates a built graph in topological order, one node at a time.
type Executor struct {
	// graph is the dependency graph being evaluated
	graph *Graph

	// data supplies leaf columns
	data *table.Table

	// params are passed to function nodes
	params Params

	// opts controls debug mode, rounding, logging and observation
	opts Options

	// rows is the required length of every column, -1 until known
	rows int

	// columns maps names to computed or supplied columns
	columns map[string]table.Column

	// status tracks the current status of each name
	status map[string]NodeStatus

	// errors records failures in debug mode
	errors map[string]*NodeError

	// tracer creates a span per node
	tracer trace.Tracer
}

// NewExecutor creates an executor for one graph and one dataset.
func NewExecutor(graph *Graph, data *table.Table, params Params, opts Options) *Executor {
	if data == nil {
		data = table.New()
	}
	rows := -1
	if data.Width() > 0 {
		rows = data.Len()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	e := &Executor{
		graph:   graph,
		data:    data,
		params:  params,
		opts:    opts,
		rows:    rows,
		columns: make(map[string]table.Column, len(graph.Nodes)),
		status:  make(map[string]NodeStatus, len(graph.Nodes)),
		errors:  make(map[string]*NodeError),
		tracer:  otel.Tracer(tracerName),
	}
	for name := range graph.Nodes {
		e.status[name] = NodeStatusPending
	}
	return e
}

// Run evaluates every node in order. Outside debug mode the first failure
// aborts the run and is returned. In debug mode failures are recorded,
// dependents are marked propagated and independent nodes still run.
func (e *Executor) Run(ctx context.Context) error {
	for _, name := range e.graph.Order() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("computation cancelled: %w", err)
		}

		gn := e.graph.Nodes[name]
		if gn.IsLeaf() {
			e.supplyLeaf(name)
			continue
		}

		if causes := e.failedCauses(gn.Dependencies); len(causes) > 0 {
			err := NewDependencyFailedError(name, causes)
			e.recordFailure(name, NodeStatusPropagated, err, causes)
			e.opts.Observer.NodeFinished(ctx, name, gn.Node.Kind, NodeStatusPropagated, 0, err)
			continue
		}

		start := time.Now()
		col, err := e.evaluate(ctx, gn.Node)
		elapsed := time.Since(start)

		if err != nil {
			e.opts.Observer.NodeFinished(ctx, name, gn.Node.Kind, NodeStatusFailed, elapsed, err)
			if !e.opts.Debug {
				return err
			}
			e.recordFailure(name, NodeStatusFailed, err, []string{name})
			e.opts.Logger.Warn().Err(err).Str("node", name).Msg("Node failed")
			continue
		}

		e.columns[name] = col
		if gn.Node.Kind == NodeKindColumn {
			e.status[name] = NodeStatusSupplied
		} else {
			e.status[name] = NodeStatusSucceeded
		}
		e.opts.Observer.NodeFinished(ctx, name, gn.Node.Kind, e.status[name], elapsed, nil)
	}
	return nil
}

// Column returns the column computed or supplied for name.
func (e *Executor) Column(name string) (table.Column, bool) {
	c, ok := e.columns[name]
	return c, ok
}

// Status returns a copy of every name's status.
func (e *Executor) Status() map[string]NodeStatus {
	out := make(map[string]NodeStatus, len(e.status))
	for k, v := range e.status {
		out[k] = v
	}
	return out
}

// Errors returns the failures recorded in debug mode.
func (e *Executor) Errors() map[string]*NodeError {
	return e.errors
}

// Rows returns the row count, or 0 if no column was seen.
func (e *Executor) Rows() int {
	if e.rows < 0 {
		return 0
	}
	return e.rows
}

// supplyLeaf takes a leaf from the data. A missing leaf only reaches here in
// debug mode, where it is recorded as a failure.
func (e *Executor) supplyLeaf(name string) {
	col, ok := e.data.Column(name)
	if !ok {
		e.recordFailure(name, NodeStatusFailed, NewMissingInputError([]string{name}, nil), []string{name})
		return
	}
	e.columns[name] = col
	e.status[name] = NodeStatusSupplied
}

// failedCauses collects the root failures behind any failed dependency.
func (e *Executor) failedCauses(deps []string) []string {
	seen := make(map[string]bool)
	for _, dep := range deps {
		if ne, failed := e.errors[dep]; failed {
			for _, c := range ne.Causes {
				seen[c] = true
			}
		}
	}
	causes := make([]string, 0, len(seen))
	for c := range seen {
		causes = append(causes, c)
	}
	sort.Strings(causes)
	return causes
}

func (e *Executor) recordFailure(name string, status NodeStatus, err error, causes []string) {
	e.status[name] = status
	e.errors[name] = &NodeError{
		Name:   name,
		Status: status,
		Err:    err,
		Causes: causes,
	}
}

// evaluate runs one node inside its own span.
func (e *Executor) evaluate(ctx context.Context, node *Node) (col table.Column, err error) {
	_, span := e.tracer.Start(ctx, "engine.node",
		trace.WithAttributes(
			attribute.String("node.name", node.Name),
			attribute.String("node.kind", string(node.Kind)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	switch node.Kind {
	case NodeKindColumn:
		col = node.Column
	case NodeKindAggregation:
		col, err = aggregate(node.Name, node.Aggregation,
			e.columns[node.Aggregation.Source], e.columns[node.Aggregation.Group])
		if err != nil {
			if _, ok := ClassOf(err); !ok {
				err = NewFunctionEvaluationError(node.Name, err)
			}
			return table.Column{}, err
		}
	case NodeKindFunction:
		col, err = e.call(node)
		if err != nil {
			return table.Column{}, err
		}
	default:
		return table.Column{}, NewInvalidNodeError(node.Name, fmt.Sprintf("cannot evaluate %s node", node.Kind))
	}

	if col.IsZero() {
		return table.Column{}, NewFunctionEvaluationError(node.Name, fmt.Errorf("no column returned"))
	}
	if e.rows < 0 {
		e.rows = col.Len()
	}
	if col.Len() != e.rows {
		return table.Column{}, NewShapeMismatchError(node.Name, e.rows, col.Len())
	}

	if e.opts.Rounding && node.Rounding != nil {
		rounding, err := node.Rounding.Resolve(e.params)
		if err != nil {
			return table.Column{}, NewFunctionEvaluationError(node.Name, err)
		}
		if col, err = rounding.Apply(col); err != nil {
			return table.Column{}, NewFunctionEvaluationError(node.Name, err)
		}
	}
	return col, nil
}

// call invokes a function body, turning panics into evaluation errors.
func (e *Executor) call(node *Node) (col table.Column, err error) {
	var missing []string
	for _, key := range node.Params {
		if !e.params.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return table.Column{}, NewMissingInputError(nil, missing)
	}

	args := make([]table.Column, len(node.Inputs))
	for i, in := range node.Inputs {
		args[i] = e.columns[in]
	}

	defer func() {
		if r := recover(); r != nil {
			col = table.Column{}
			err = NewFunctionEvaluationError(node.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	col, err = node.Fn(args, e.params.Subset(node.Params))
	if err != nil {
		return table.Column{}, NewFunctionEvaluationError(node.Name, err)
	}
	return col, nil
}
