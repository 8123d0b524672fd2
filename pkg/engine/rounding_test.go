package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/taxgraph/taxgraph/pkg/table"
)

func TestRounding_Apply(t *testing.T) {
	in := table.FromFloats([]float64{1.005, 2.5, -2.5, 0.014999, 10})

	tests := []struct {
		rounding Rounding
		want     []float64
	}{
		{Rounding{Base: 1, Direction: RoundNearest}, []float64{1, 3, -3, 0, 10}},
		{Rounding{Base: 1, Direction: RoundUp}, []float64{2, 3, -2, 1, 10}},
		{Rounding{Base: 1, Direction: RoundDown}, []float64{1, 2, -3, 0, 10}},
		{Rounding{Base: 0.01, Direction: RoundDown}, []float64{1, 2.5, -2.5, 0.01, 10}},
		{Rounding{Base: 5, Direction: RoundUp}, []float64{5, 5, 0, 5, 10}},
	}

	for _, tt := range tests {
		out, err := tt.rounding.Apply(in)
		if err != nil {
			t.Fatalf("%+v: expected no error, got: %v", tt.rounding, err)
		}
		if !equalFloats(out.Floats(), tt.want) {
			t.Errorf("%+v: expected %v, got %v", tt.rounding, tt.want, out.Floats())
		}
	}
}

func TestRounding_KeepsNullsAndKinds(t *testing.T) {
	r := &Rounding{Base: 1, Direction: RoundUp}

	in, _ := table.FromFloats([]float64{1.2, 0}).WithNulls([]bool{false, true})
	out, err := r.Apply(in)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !out.IsNull(1) {
		t.Error("Expected null to survive rounding")
	}

	ints := table.FromInts([]int64{3})
	out, err = r.Apply(ints)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !out.Equal(ints) {
		t.Error("Expected int column unchanged")
	}
}

func TestRounding_Validate(t *testing.T) {
	if err := (&Rounding{Base: 0.01, Direction: RoundNearest}).Validate(); err != nil {
		t.Errorf("Expected valid rounding, got: %v", err)
	}
	if err := (&Rounding{Base: -1, Direction: RoundUp}).Validate(); err == nil {
		t.Error("Expected error for negative base")
	}
	if err := (&Rounding{Base: 1, Direction: "sideways"}).Validate(); err == nil {
		t.Error("Expected error for unknown direction")
	}
}

func TestRounding_Resolve(t *testing.T) {
	fixed := &Rounding{Base: 1, Direction: RoundUp}
	got, err := fixed.Resolve(nil)
	if err != nil || got != fixed {
		t.Errorf("Expected fixed rounding unchanged, got %+v, %v", got, err)
	}

	keyed := &Rounding{ParamsKey: "eink.rundung"}
	if err := keyed.Validate(); err != nil {
		t.Errorf("Expected keyed rounding to be valid, got: %v", err)
	}

	params := Params{"eink": map[string]any{"rundung": map[string]any{"base": 0.01, "direction": "down"}}}
	got, err = keyed.Resolve(params)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Base != 0.01 || got.Direction != RoundDown {
		t.Errorf("Expected 0.01 down, got %+v", got)
	}

	got, err = keyed.Resolve(Params{"eink": map[string]any{"rundung": map[string]any{"base": 5}}})
	if err != nil || got.Base != 5 || got.Direction != RoundNearest {
		t.Errorf("Expected base 5 nearest, got %+v, %v", got, err)
	}

	invalid := []Params{
		nil,
		{"eink": map[string]any{"rundung": 1.0}},
		{"eink": map[string]any{"rundung": map[string]any{"direction": "down"}}},
		{"eink": map[string]any{"rundung": map[string]any{"base": 1, "direction": "sideways"}}},
	}
	for _, p := range invalid {
		if _, err := keyed.Resolve(p); err == nil {
			t.Errorf("Expected error for params %v", p)
		}
	}
}

func TestCompute_RoundingFromParams(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("netto", []string{"bruttolohn_m"}, 0.4, nil).
			WithRounding(&Rounding{ParamsKey: "netto.rundung"}),
	)
	data := newTestData(t)

	_, err := Compute(context.Background(), data, fs, []string{"netto"}, nil, Options{Rounding: true})
	var missing *MissingInputError
	if !errors.As(err, &missing) || !equalStrings(missing.Params, []string{"netto.rundung"}) {
		t.Fatalf("Expected missing rounding parameter, got %v", err)
	}

	if _, err := Compute(context.Background(), data, fs, []string{"netto"}, nil, Options{}); err != nil {
		t.Errorf("Expected no rounding parameter needed without rounding, got: %v", err)
	}

	params := Params{"netto": map[string]any{"rundung": map[string]any{"base": 1, "direction": "up"}}}
	result, err := Compute(context.Background(), data, fs, []string{"netto"}, params, Options{Rounding: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for i, v := range floatsOf(t, result.Table, "netto") {
		if v != math.Ceil(v) {
			t.Errorf("Row %d: expected whole number, got %v", i, v)
		}
	}
}
