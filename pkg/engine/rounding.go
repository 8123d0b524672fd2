package engine

import (
	"fmt"
	"math"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// RoundingDirection selects how values snap to the rounding base.
type RoundingDirection string

const (
	// RoundUp rounds towards positive infinity.
	RoundUp RoundingDirection = "up"

	// RoundDown rounds towards negative infinity.
	RoundDown RoundingDirection = "down"

	// RoundNearest rounds half away from zero.
	RoundNearest RoundingDirection = "nearest"
)

// Rounding rounds a node's float output to a multiple of Base.
type Rounding struct {
	// Base is the multiple to round to, e.g. 0.01 or 1.
	Base float64 `json:"base" yaml:"base"`

	// Direction selects up, down or nearest.
	Direction RoundingDirection `json:"direction" yaml:"direction"`

	// ParamsKey names a parameter holding {base, direction}. When set, Base
	// and Direction are read from the parameters of each call, so dated
	// parameters can change the rounding over time.
	ParamsKey string `json:"params_key,omitempty" yaml:"params_key,omitempty"`
}

// Validate checks the rounding spec.
func (r *Rounding) Validate() error {
	if r.ParamsKey != "" {
		return nil
	}
	if r.Base <= 0 || math.IsInf(r.Base, 0) || math.IsNaN(r.Base) {
		return fmt.Errorf("rounding base must be a positive number, got %v", r.Base)
	}
	switch r.Direction {
	case RoundUp, RoundDown, RoundNearest:
		return nil
	default:
		return fmt.Errorf("invalid rounding direction: %s", r.Direction)
	}
}

// Resolve returns the rounding to apply with params. Fixed roundings are
// returned unchanged.
func (r *Rounding) Resolve(params Params) (*Rounding, error) {
	if r.ParamsKey == "" {
		return r, nil
	}

	v, ok := params.Lookup(r.ParamsKey)
	if !ok {
		return nil, fmt.Errorf("rounding parameter %s not found", r.ParamsKey)
	}
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("rounding parameter %s must be a mapping, got %T", r.ParamsKey, v)
	}

	base, err := Params(m).Float("base")
	if err != nil {
		return nil, fmt.Errorf("rounding parameter %s: %w", r.ParamsKey, err)
	}
	out := &Rounding{Base: base, Direction: RoundNearest}
	if d, ok := m["direction"]; ok {
		s, ok := d.(string)
		if !ok {
			return nil, fmt.Errorf("rounding parameter %s: direction must be a string, got %T", r.ParamsKey, d)
		}
		out.Direction = RoundingDirection(s)
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("rounding parameter %s: %w", r.ParamsKey, err)
	}
	return out, nil
}

// Apply returns a rounded copy of a float column. Other kinds are returned
// unchanged.
func (r *Rounding) Apply(col table.Column) (table.Column, error) {
	if col.Kind() != table.KindFloat {
		return col, nil
	}

	in := col.Floats()
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = r.round(v)
	}

	nulls := make([]bool, len(in))
	for i := range nulls {
		nulls[i] = col.IsNull(i)
	}
	return table.FromFloats(out).WithNulls(nulls)
}

func (r *Rounding) round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}

	// Fractional bases divide by their integer inverse so 0.01 stays exact.
	scale := func(x float64) float64 { return x / r.Base }
	unscale := func(q float64) float64 { return q * r.Base }
	if r.Base < 1 {
		if inv := math.Round(1 / r.Base); math.Abs(inv*r.Base-1) < 1e-12 {
			scale = func(x float64) float64 { return x * inv }
			unscale = func(q float64) float64 { return q / inv }
		}
	}

	scaled := scale(v)
	if nearest := math.Round(scaled); math.Abs(scaled-nearest) < 1e-9 {
		scaled = nearest
	}

	switch r.Direction {
	case RoundUp:
		return unscale(math.Ceil(scaled))
	case RoundDown:
		return unscale(math.Floor(scaled))
	default:
		return unscale(math.Round(scaled))
	}
}
