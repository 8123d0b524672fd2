package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// DateLayout is the textual form of policy dates.
const DateLayout = "2006-01-02"

// Func computes one output column from its input columns, over all rows at once.
// Args arrive in the order the node declares its inputs.
type Func func(args []table.Column, params Params) (table.Column, error)

// NodeKind distinguishes how a node produces its column.
type NodeKind string

const (
	// NodeKindFunction is computed by a Func.
	NodeKindFunction NodeKind = "function"

	// NodeKindAggregation reduces a source column within groups and broadcasts back.
	NodeKindAggregation NodeKind = "aggregation"

	// NodeKindColumn is a literal column supplied by the caller.
	NodeKindColumn NodeKind = "column"
)

// Validate checks if the node kind is valid.
func (k NodeKind) Validate() error {
	switch k {
	case NodeKindFunction, NodeKindAggregation, NodeKindColumn:
		return nil
	default:
		return fmt.Errorf("invalid node kind: %s", k)
	}
}

// Node is a named computation: its declared inputs, the parameter keys it
// reads and how it produces its column.
type Node struct {
	// Name is the unique name of the column this node produces.
	Name string `json:"name" yaml:"name"`

	// Kind selects which of Fn, Aggregation or Column is used.
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Inputs lists the names this node consumes, in argument order.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Params lists the policy parameter keys this node reads.
	Params []string `json:"params,omitempty" yaml:"params,omitempty"`

	// Fn is the body of a function node.
	Fn Func `json:"-" yaml:"-"`

	// Aggregation describes an aggregation node.
	Aggregation *Aggregation `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`

	// Period restricts the dates at which this version is active.
	Period Period `json:"period" yaml:"period"`

	// Rounding is applied to the output when rounding is enabled.
	Rounding *Rounding `json:"rounding,omitempty" yaml:"rounding,omitempty"`

	// Column is the literal value of a column node.
	Column table.Column `json:"-" yaml:"-"`
}

// NewFunction creates a function node.
func NewFunction(name string, inputs []string, fn Func) *Node {
	return &Node{
		Name:   name,
		Kind:   NodeKindFunction,
		Inputs: inputs,
		Fn:     fn,
	}
}

// NewAggregation creates a node that reduces source within groups of equal
// group values and broadcasts the result to every member row.
func NewAggregation(name, source, group string, kind ReductionKind) *Node {
	return &Node{
		Name:   name,
		Kind:   NodeKindAggregation,
		Inputs: []string{source, group},
		Aggregation: &Aggregation{
			Source: source,
			Group:  group,
			Kind:   kind,
		},
	}
}

// NewCustomAggregation creates an aggregation node with a caller supplied reducer.
func NewCustomAggregation(name, source, group string, reducer *Reducer) *Node {
	n := NewAggregation(name, source, group, ReductionCustom)
	n.Aggregation.Reducer = reducer
	return n
}

// Literal creates a column node. Used as an override it turns the name into
// a leaf.
func Literal(name string, col table.Column) *Node {
	return &Node{
		Name:   name,
		Kind:   NodeKindColumn,
		Column: col,
	}
}

// WithParams sets the parameter keys the node reads.
func (n *Node) WithParams(keys ...string) *Node {
	n.Params = keys
	return n
}

// WithPeriod restricts the node to the inclusive date range.
func (n *Node) WithPeriod(p Period) *Node {
	n.Period = p
	return n
}

// WithRounding attaches a rounding spec.
func (n *Node) WithRounding(r *Rounding) *Node {
	n.Rounding = r
	return n
}

// Dependencies returns the names this node consumes. Column nodes have none.
func (n *Node) Dependencies() []string {
	if n.Kind == NodeKindColumn {
		return nil
	}
	return n.Inputs
}

// Validate checks node metadata.
func (n *Node) Validate() error {
	if n.Name == "" {
		return NewInvalidNodeError(n.Name, "name is empty")
	}
	if err := n.Kind.Validate(); err != nil {
		return NewInvalidNodeError(n.Name, err.Error())
	}

	seen := make(map[string]bool, len(n.Inputs))
	for _, in := range n.Inputs {
		if in == "" {
			return NewInvalidNodeError(n.Name, "input name is empty")
		}
		if seen[in] {
			return NewInvalidNodeError(n.Name, fmt.Sprintf("input %s declared twice", in))
		}
		seen[in] = true
	}

	switch n.Kind {
	case NodeKindFunction:
		if n.Fn == nil {
			return NewInvalidNodeError(n.Name, "function has no body")
		}
	case NodeKindAggregation:
		if err := n.Aggregation.validate(); err != nil {
			return NewInvalidNodeError(n.Name, err.Error())
		}
		if len(n.Inputs) != 2 || n.Inputs[0] != n.Aggregation.Source || n.Inputs[1] != n.Aggregation.Group {
			return NewInvalidNodeError(n.Name, "aggregation inputs must be source and group")
		}
	case NodeKindColumn:
		if err := n.Column.Kind().Validate(); err != nil {
			return NewInvalidNodeError(n.Name, "literal column is empty")
		}
	}

	if err := n.Period.Validate(); err != nil {
		return NewInvalidNodeError(n.Name, err.Error())
	}
	if n.Rounding != nil {
		if err := n.Rounding.Validate(); err != nil {
			return NewInvalidNodeError(n.Name, err.Error())
		}
	}
	return nil
}

// Period is an inclusive range of dates. A zero Start or End leaves that side open.
type Period struct {
	// Start is the first day the version applies.
	Start time.Time `json:"start,omitempty" yaml:"start,omitempty"`

	// End is the last day the version applies.
	End time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

// Always is the period with both ends open.
var Always = Period{}

// Contains reports whether the date falls within the period.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	if !p.Start.IsZero() && d.Before(truncateDay(p.Start)) {
		return false
	}
	if !p.End.IsZero() && d.After(truncateDay(p.End)) {
		return false
	}
	return true
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	if !p.End.IsZero() && !o.Start.IsZero() && truncateDay(p.End).Before(truncateDay(o.Start)) {
		return false
	}
	if !o.End.IsZero() && !p.Start.IsZero() && truncateDay(o.End).Before(truncateDay(p.Start)) {
		return false
	}
	return true
}

// Validate checks that the period is not inverted.
func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return fmt.Errorf("period ends (%s) before it starts (%s)",
			p.End.Format(DateLayout), p.Start.Format(DateLayout))
	}
	return nil
}

// String renders the period as "start..end" with open ends left blank.
func (p Period) String() string {
	var start, end string
	if !p.Start.IsZero() {
		start = p.Start.Format(DateLayout)
	}
	if !p.End.IsZero() {
		end = p.End.Format(DateLayout)
	}
	return start + ".." + end
}

// ParsePeriod parses start and end dates; empty strings leave a side open.
func ParsePeriod(start, end string) (Period, error) {
	var p Period
	var err error
	if start != "" {
		if p.Start, err = time.Parse(DateLayout, start); err != nil {
			return Period{}, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if end != "" {
		if p.End, err = time.Parse(DateLayout, end); err != nil {
			return Period{}, fmt.Errorf("invalid end date: %w", err)
		}
	}
	return p, p.Validate()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Params holds policy parameters, passed to functions separately from columns.
// Nested maps are addressed with dotted keys.
type Params map[string]any

// Lookup resolves a dotted key such as "kindergeld.satz".
func (p Params) Lookup(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	if v, ok := p[key]; ok {
		return v, true
	}

	var cur any = map[string]any(p)
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether the key resolves.
func (p Params) Has(key string) bool {
	_, ok := p.Lookup(key)
	return ok
}

// Float resolves a key to a number.
func (p Params) Float(key string) (float64, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("parameter %s is %T, not a number", key, v)
	}
}

// Subset returns the parameters named by keys, keyed as given.
func (p Params) Subset(keys []string) Params {
	out := make(Params, len(keys))
	for _, k := range keys {
		if v, ok := p.Lookup(k); ok {
			out[k] = v
		}
	}
	return out
}

// Keys returns the top level keys, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Params:
		return m, true
	default:
		return nil, false
	}
}

// Overrides maps names to nodes that take precedence over the registry for
// one call.
type Overrides map[string]*Node
