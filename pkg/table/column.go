package table

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the declared element type of a column.
type Kind string

const (
	// KindFloat holds float64 values.
	KindFloat Kind = "float"

	// KindInt holds int64 values.
	KindInt Kind = "int"

	// KindBool holds bool values.
	KindBool Kind = "bool"

	// KindString holds string values.
	KindString Kind = "string"
)

// Validate checks if the kind is one of the supported element types.
func (k Kind) Validate() error {
	switch k {
	case KindFloat, KindInt, KindBool, KindString:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// IsNumeric reports whether values of this kind can be widened to float64.
func (k Kind) IsNumeric() bool {
	return k == KindFloat || k == KindInt || k == KindBool
}

// ParseKind converts a textual kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "float", "float64", "real", "double":
		return KindFloat, nil
	case "int", "int64", "integer":
		return KindInt, nil
	case "bool", "boolean":
		return KindBool, nil
	case "string", "str", "text":
		return KindString, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Column is an ordered, homogeneous sequence of values, one per row.
//
// Exactly one of the backing slices is populated, selected by kind. A nil
// null mask means every value is present.
type Column struct {
	kind    Kind
	floats  []float64
	ints    []int64
	bools   []bool
	strings []string
	nulls   []bool
}

// FromFloats creates a float column. The slice is not copied.
func FromFloats(v []float64) Column {
	if v == nil {
		v = []float64{}
	}
	return Column{kind: KindFloat, floats: v}
}

// FromInts creates an int column. The slice is not copied.
func FromInts(v []int64) Column {
	if v == nil {
		v = []int64{}
	}
	return Column{kind: KindInt, ints: v}
}

// FromBools creates a bool column. The slice is not copied.
func FromBools(v []bool) Column {
	if v == nil {
		v = []bool{}
	}
	return Column{kind: KindBool, bools: v}
}

// FromStrings creates a string column. The slice is not copied.
func FromStrings(v []string) Column {
	if v == nil {
		v = []string{}
	}
	return Column{kind: KindString, strings: v}
}

// NewColumn creates a zero-filled column of the given kind and length.
func NewColumn(kind Kind, n int) (Column, error) {
	switch kind {
	case KindFloat:
		return FromFloats(make([]float64, n)), nil
	case KindInt:
		return FromInts(make([]int64, n)), nil
	case KindBool:
		return FromBools(make([]bool, n)), nil
	case KindString:
		return FromStrings(make([]string, n)), nil
	default:
		return Column{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

// Kind returns the declared element type.
func (c Column) Kind() Kind {
	return c.kind
}

// Len returns the number of rows.
func (c Column) Len() int {
	switch c.kind {
	case KindFloat:
		return len(c.floats)
	case KindInt:
		return len(c.ints)
	case KindBool:
		return len(c.bools)
	case KindString:
		return len(c.strings)
	default:
		return 0
	}
}

// IsZero reports whether the column was never initialised.
func (c Column) IsZero() bool {
	return c.kind == ""
}

// Floats returns the backing float slice, or nil for other kinds.
func (c Column) Floats() []float64 { return c.floats }

// Ints returns the backing int slice, or nil for other kinds.
func (c Column) Ints() []int64 { return c.ints }

// Bools returns the backing bool slice, or nil for other kinds.
func (c Column) Bools() []bool { return c.bools }

// Strings returns the backing string slice, or nil for other kinds.
func (c Column) Strings() []string { return c.strings }

// AsFloats returns the values widened to float64. Bools map to 0 and 1.
// Float columns return their backing slice; other kinds return a copy.
func (c Column) AsFloats() ([]float64, error) {
	switch c.kind {
	case KindFloat:
		return c.floats, nil
	case KindInt:
		out := make([]float64, len(c.ints))
		for i, v := range c.ints {
			out[i] = float64(v)
		}
		return out, nil
	case KindBool:
		out := make([]float64, len(c.bools))
		for i, v := range c.bools {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %s column to float", ErrKindMismatch, c.kind)
	}
}

// WithNulls returns a copy of the column header carrying the given null mask.
// A mask entry of true marks the row as missing.
func (c Column) WithNulls(mask []bool) (Column, error) {
	if mask != nil && len(mask) != c.Len() {
		return Column{}, fmt.Errorf("%w: null mask has %d rows, column has %d",
			ErrLengthMismatch, len(mask), c.Len())
	}
	out := c
	out.nulls = nil
	for _, null := range mask {
		if null {
			out.nulls = mask
			break
		}
	}
	return out, nil
}

// IsNull reports whether row i is missing.
func (c Column) IsNull(i int) bool {
	return c.nulls != nil && c.nulls[i]
}

// HasNulls reports whether any row is missing.
func (c Column) HasNulls() bool {
	return c.nulls != nil
}

// NullCount returns the number of missing rows.
func (c Column) NullCount() int {
	n := 0
	for _, null := range c.nulls {
		if null {
			n++
		}
	}
	return n
}

// Value returns row i as an untyped value, or nil when the row is missing.
func (c Column) Value(i int) any {
	if c.IsNull(i) {
		return nil
	}
	switch c.kind {
	case KindFloat:
		return c.floats[i]
	case KindInt:
		return c.ints[i]
	case KindBool:
		return c.bools[i]
	case KindString:
		return c.strings[i]
	default:
		return nil
	}
}

// Format renders row i as text. Missing rows render as the empty string.
func (c Column) Format(i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.kind {
	case KindFloat:
		return strconv.FormatFloat(c.floats[i], 'f', -1, 64)
	case KindInt:
		return strconv.FormatInt(c.ints[i], 10)
	case KindBool:
		return strconv.FormatBool(c.bools[i])
	case KindString:
		return c.strings[i]
	default:
		return ""
	}
}

// Clone returns a deep copy.
func (c Column) Clone() Column {
	out := Column{kind: c.kind}
	switch c.kind {
	case KindFloat:
		out.floats = append([]float64(nil), c.floats...)
	case KindInt:
		out.ints = append([]int64(nil), c.ints...)
	case KindBool:
		out.bools = append([]bool(nil), c.bools...)
	case KindString:
		out.strings = append([]string(nil), c.strings...)
	}
	if c.nulls != nil {
		out.nulls = append([]bool(nil), c.nulls...)
	}
	return out
}

// Equal reports whether two columns have the same kind, length, null mask and
// values. Float values compare bit for bit, so NaN equals NaN.
func (c Column) Equal(o Column) bool {
	if c.kind != o.kind || c.Len() != o.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) != o.IsNull(i) {
			return false
		}
		if c.IsNull(i) {
			continue
		}
		switch c.kind {
		case KindFloat:
			if math.Float64bits(c.floats[i]) != math.Float64bits(o.floats[i]) {
				return false
			}
		case KindInt:
			if c.ints[i] != o.ints[i] {
				return false
			}
		case KindBool:
			if c.bools[i] != o.bools[i] {
				return false
			}
		case KindString:
			if c.strings[i] != o.strings[i] {
				return false
			}
		}
	}
	return true
}
