package engine

import (
	"fmt"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// ReductionKind names a group reduction.
type ReductionKind string

const (
	// ReductionSum adds values. Int and bool sources give int, floats give float.
	ReductionSum ReductionKind = "sum"

	// ReductionCount counts true values of a bool source, else non-null rows.
	ReductionCount ReductionKind = "count"

	// ReductionAny is true if any value is true or non-zero.
	ReductionAny ReductionKind = "any"

	// ReductionAll is true if every value is true or non-zero.
	ReductionAll ReductionKind = "all"

	// ReductionMax keeps the source kind.
	ReductionMax ReductionKind = "max"

	// ReductionMin keeps the source kind.
	ReductionMin ReductionKind = "min"

	// ReductionMean gives a float.
	ReductionMean ReductionKind = "mean"

	// ReductionCustom delegates to a Reducer.
	ReductionCustom ReductionKind = "custom"
)

// Validate checks if the reduction kind is valid.
func (k ReductionKind) Validate() error {
	switch k {
	case ReductionSum, ReductionCount, ReductionAny, ReductionAll,
		ReductionMax, ReductionMin, ReductionMean, ReductionCustom:
		return nil
	default:
		return fmt.Errorf("invalid reduction kind: %s", k)
	}
}

// Reducer is a caller supplied group reduction.
type Reducer struct {
	// Name identifies the reducer in logs and errors.
	Name string

	// OrderIndependent must be true. Rows within a group are not guaranteed
	// to arrive in any particular order.
	OrderIndependent bool

	// Reduce receives the non-null values of one group.
	Reduce func(values []float64) (float64, error)
}

// Aggregation describes an aggregation node.
type Aggregation struct {
	// Source is the column being reduced.
	Source string `json:"source" yaml:"source"`

	// Group is the grouping identifier column, e.g. "hh_id" or "tu_id".
	Group string `json:"group" yaml:"group"`

	// Kind is the reduction.
	Kind ReductionKind `json:"kind" yaml:"kind"`

	// Reducer is required when Kind is ReductionCustom.
	Reducer *Reducer `json:"-" yaml:"-"`
}

func (a *Aggregation) validate() error {
	if a == nil {
		return fmt.Errorf("aggregation node has no aggregation")
	}
	if a.Source == "" || a.Group == "" {
		return fmt.Errorf("aggregation needs a source and a group column")
	}
	if a.Source == a.Group {
		return fmt.Errorf("aggregation source and group are the same column")
	}
	if err := a.Kind.Validate(); err != nil {
		return err
	}
	if a.Kind == ReductionCustom {
		if a.Reducer == nil || a.Reducer.Reduce == nil {
			return fmt.Errorf("custom aggregation has no reducer")
		}
		if !a.Reducer.OrderIndependent {
			return fmt.Errorf("custom reducer %s is not declared order independent", a.Reducer.Name)
		}
	} else if a.Reducer != nil {
		return fmt.Errorf("reducer given for %s aggregation", a.Kind)
	}
	return nil
}

// groupIndex assigns every row the position of its group, in order of first
// appearance.
type groupIndex struct {
	rowGroup []int
	groups   int
}

func buildGroupIndex(name, group string, key table.Column) (*groupIndex, error) {
	var nullRows []int
	for i := 0; i < key.Len(); i++ {
		if key.IsNull(i) {
			nullRows = append(nullRows, i)
		}
	}
	if len(nullRows) > 0 {
		return nil, NewMissingGroupKeyError(name, group, nullRows)
	}

	idx := &groupIndex{rowGroup: make([]int, key.Len())}
	switch key.Kind() {
	case table.KindInt:
		seen := make(map[int64]int)
		for i, k := range key.Ints() {
			g, ok := seen[k]
			if !ok {
				g = idx.groups
				seen[k] = g
				idx.groups++
			}
			idx.rowGroup[i] = g
		}
	case table.KindString:
		seen := make(map[string]int)
		for i, k := range key.Strings() {
			g, ok := seen[k]
			if !ok {
				g = idx.groups
				seen[k] = g
				idx.groups++
			}
			idx.rowGroup[i] = g
		}
	default:
		return nil, fmt.Errorf("group column %s must be int or string, got %s", group, key.Kind())
	}
	return idx, nil
}

// aggregate evaluates an aggregation node over its source and group columns.
func aggregate(name string, agg *Aggregation, source, key table.Column) (table.Column, error) {
	if source.Len() != key.Len() {
		return table.Column{}, NewShapeMismatchError(name, key.Len(), source.Len())
	}
	idx, err := buildGroupIndex(name, agg.Group, key)
	if err != nil {
		return table.Column{}, err
	}

	switch agg.Kind {
	case ReductionSum:
		return reduceSum(idx, source)
	case ReductionCount:
		return reduceCount(idx, source), nil
	case ReductionAny, ReductionAll:
		return reduceLogical(idx, source, agg.Kind == ReductionAll)
	case ReductionMax, ReductionMin:
		return reduceExtreme(idx, source, agg.Kind == ReductionMax)
	case ReductionMean:
		return reduceMean(idx, source)
	case ReductionCustom:
		return reduceCustom(idx, source, agg.Reducer)
	default:
		return table.Column{}, fmt.Errorf("invalid reduction kind: %s", agg.Kind)
	}
}

func reduceSum(idx *groupIndex, source table.Column) (table.Column, error) {
	switch source.Kind() {
	case table.KindInt, table.KindBool:
		ints, bools := source.Ints(), source.Bools()
		sums := make([]int64, idx.groups)
		for i, g := range idx.rowGroup {
			if source.IsNull(i) {
				continue
			}
			if source.Kind() == table.KindInt {
				sums[g] += ints[i]
			} else if bools[i] {
				sums[g]++
			}
		}
		out := make([]int64, len(idx.rowGroup))
		for i, g := range idx.rowGroup {
			out[i] = sums[g]
		}
		return table.FromInts(out), nil
	case table.KindFloat:
		vals := source.Floats()
		sums := make([]float64, idx.groups)
		for i, g := range idx.rowGroup {
			if !source.IsNull(i) {
				sums[g] += vals[i]
			}
		}
		out := make([]float64, len(idx.rowGroup))
		for i, g := range idx.rowGroup {
			out[i] = sums[g]
		}
		return table.FromFloats(out), nil
	default:
		return table.Column{}, fmt.Errorf("cannot sum %s column", source.Kind())
	}
}

func reduceCount(idx *groupIndex, source table.Column) table.Column {
	counts := make([]int64, idx.groups)
	bools := source.Bools()
	for i, g := range idx.rowGroup {
		if source.IsNull(i) {
			continue
		}
		if source.Kind() == table.KindBool && !bools[i] {
			continue
		}
		counts[g]++
	}
	out := make([]int64, len(idx.rowGroup))
	for i, g := range idx.rowGroup {
		out[i] = counts[g]
	}
	return table.FromInts(out)
}

func reduceLogical(idx *groupIndex, source table.Column, all bool) (table.Column, error) {
	vals, err := source.AsFloats()
	if err != nil {
		return table.Column{}, err
	}
	acc := make([]bool, idx.groups)
	if all {
		for g := range acc {
			acc[g] = true
		}
	}
	for i, g := range idx.rowGroup {
		if source.IsNull(i) {
			continue
		}
		truthy := vals[i] != 0
		if all {
			acc[g] = acc[g] && truthy
		} else {
			acc[g] = acc[g] || truthy
		}
	}
	out := make([]bool, len(idx.rowGroup))
	for i, g := range idx.rowGroup {
		out[i] = acc[g]
	}
	return table.FromBools(out), nil
}

func reduceExtreme(idx *groupIndex, source table.Column, largest bool) (table.Column, error) {
	if source.Kind() == table.KindBool {
		// max of bools is "any", min is "all".
		return reduceLogical(idx, source, !largest)
	}

	better := func(a, b float64) bool {
		if largest {
			return a > b
		}
		return a < b
	}
	betterInt := func(a, b int64) bool {
		if largest {
			return a > b
		}
		return a < b
	}

	set := make([]bool, idx.groups)
	nulls := make([]bool, len(idx.rowGroup))

	switch source.Kind() {
	case table.KindInt:
		vals := source.Ints()
		acc := make([]int64, idx.groups)
		for i, g := range idx.rowGroup {
			if source.IsNull(i) {
				continue
			}
			if !set[g] || betterInt(vals[i], acc[g]) {
				acc[g] = vals[i]
				set[g] = true
			}
		}
		out := make([]int64, len(idx.rowGroup))
		for i, g := range idx.rowGroup {
			out[i] = acc[g]
			nulls[i] = !set[g]
		}
		return table.FromInts(out).WithNulls(nulls)
	case table.KindFloat:
		vals := source.Floats()
		acc := make([]float64, idx.groups)
		for i, g := range idx.rowGroup {
			if source.IsNull(i) {
				continue
			}
			if !set[g] || better(vals[i], acc[g]) {
				acc[g] = vals[i]
				set[g] = true
			}
		}
		out := make([]float64, len(idx.rowGroup))
		for i, g := range idx.rowGroup {
			out[i] = acc[g]
			nulls[i] = !set[g]
		}
		return table.FromFloats(out).WithNulls(nulls)
	default:
		return table.Column{}, fmt.Errorf("cannot take extreme of %s column", source.Kind())
	}
}

func reduceMean(idx *groupIndex, source table.Column) (table.Column, error) {
	vals, err := source.AsFloats()
	if err != nil {
		return table.Column{}, err
	}
	sums := make([]float64, idx.groups)
	counts := make([]int, idx.groups)
	for i, g := range idx.rowGroup {
		if source.IsNull(i) {
			continue
		}
		sums[g] += vals[i]
		counts[g]++
	}
	out := make([]float64, len(idx.rowGroup))
	nulls := make([]bool, len(idx.rowGroup))
	for i, g := range idx.rowGroup {
		if counts[g] == 0 {
			nulls[i] = true
			continue
		}
		out[i] = sums[g] / float64(counts[g])
	}
	return table.FromFloats(out).WithNulls(nulls)
}

func reduceCustom(idx *groupIndex, source table.Column, r *Reducer) (table.Column, error) {
	vals, err := source.AsFloats()
	if err != nil {
		return table.Column{}, err
	}
	members := make([][]float64, idx.groups)
	for i, g := range idx.rowGroup {
		if !source.IsNull(i) {
			members[g] = append(members[g], vals[i])
		}
	}
	results := make([]float64, idx.groups)
	for g, values := range members {
		v, err := r.Reduce(values)
		if err != nil {
			return table.Column{}, fmt.Errorf("reducer %s: %w", r.Name, err)
		}
		results[g] = v
	}
	out := make([]float64, len(idx.rowGroup))
	for i, g := range idx.rowGroup {
		out[i] = results[g]
	}
	return table.FromFloats(out), nil
}
