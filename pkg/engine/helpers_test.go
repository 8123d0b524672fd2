package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// newTestData returns four persons in two households.
func newTestData(t *testing.T) *table.Table {
	t.Helper()

	data, err := table.FromColumns(
		[]string{"p_id", "hh_id", "alter", "bruttolohn_m"},
		[]table.Column{
			table.FromInts([]int64{1, 2, 3, 4}),
			table.FromInts([]int64{1, 1, 1, 2}),
			table.FromInts([]int64{10, 12, 40, 5}),
			table.FromFloats([]float64{0, 0, 3000, 0}),
		},
	)
	if err != nil {
		t.Fatalf("Failed to build test data: %v", err)
	}
	if err := data.SetIndex("p_id"); err != nil {
		t.Fatalf("Failed to set index: %v", err)
	}
	return data
}

// kindergeldFunctions returns a small child benefit model:
// eligibility per person, an amount per person and a household total.
func kindergeldFunctions() []*Node {
	anspruch := NewFunction("kindergeld_anspruch", []string{"alter"},
		func(args []table.Column, _ Params) (table.Column, error) {
			alter := args[0].Ints()
			out := make([]bool, len(alter))
			for i, a := range alter {
				out[i] = a < 18
			}
			return table.FromBools(out), nil
		})

	betrag := NewFunction("kindergeld_m", []string{"kindergeld_anspruch"},
		func(args []table.Column, p Params) (table.Column, error) {
			satz, err := p.Float("kindergeld.satz")
			if err != nil {
				return table.Column{}, err
			}
			anspruch := args[0].Bools()
			out := make([]float64, len(anspruch))
			for i, ok := range anspruch {
				if ok {
					out[i] = satz
				}
			}
			return table.FromFloats(out), nil
		}).WithParams("kindergeld.satz")

	hh := NewAggregation("kindergeld_m_hh", "kindergeld_m", "hh_id", ReductionSum)

	return []*Node{anspruch, betrag, hh}
}

func testParams() Params {
	return Params{
		"kindergeld": map[string]any{"satz": 204.0},
	}
}

// constFunction returns a float function summing its inputs plus c, counting
// its calls in calls when non-nil.
func constFunction(name string, inputs []string, c float64, calls map[string]int) *Node {
	return NewFunction(name, inputs, func(args []table.Column, _ Params) (table.Column, error) {
		if calls != nil {
			calls[name]++
		}
		n := 0
		if len(args) > 0 {
			n = args[0].Len()
		}
		out := make([]float64, n)
		for _, a := range args {
			vals, err := a.AsFloats()
			if err != nil {
				return table.Column{}, err
			}
			for i, v := range vals {
				out[i] += v
			}
		}
		for i := range out {
			out[i] += c
		}
		return table.FromFloats(out), nil
	})
}

func failingFunction(name string, inputs []string) *Node {
	return NewFunction(name, inputs, func(args []table.Column, _ Params) (table.Column, error) {
		return table.Column{}, fmt.Errorf("%s is broken", name)
	})
}

func mustFunctionSet(t *testing.T, nodes ...*Node) *FunctionSet {
	t.Helper()
	fs, err := NewFunctionSet(nodes...)
	if err != nil {
		t.Fatalf("Failed to build function set: %v", err)
	}
	return fs
}

func floatsOf(t *testing.T, tbl *table.Table, name string) []float64 {
	t.Helper()
	col, ok := tbl.Column(name)
	if !ok {
		t.Fatalf("Expected column %s in result", name)
	}
	vals, err := col.AsFloats()
	if err != nil {
		t.Fatalf("Column %s is not numeric: %v", name, err)
	}
	return vals
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func floatColumn(vs ...float64) table.Column {
	return table.FromFloats(vs)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		t.Fatalf("Invalid date %s: %v", s, err)
	}
	return d
}
