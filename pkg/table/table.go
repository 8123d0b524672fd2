package table

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when a column's row count differs from the table's.
	ErrLengthMismatch = errors.New("column length mismatch")

	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrKindMismatch is returned when a column has an unexpected element type.
	ErrKindMismatch = errors.New("column kind mismatch")

	// ErrUnknownKind is returned for unsupported element type names.
	ErrUnknownKind = errors.New("unknown column kind")
)

// Table is an ordered set of named columns sharing one row count and order.
type Table struct {
	index   string
	names   []string
	columns map[string]Column
	rows    int
}

// New creates an empty table. The row count is fixed by the first column added.
func New() *Table {
	return &Table{
		columns: make(map[string]Column),
		rows:    -1,
	}
}

// FromColumns builds a table from names and columns given in the same order.
func FromColumns(names []string, cols []Column) (*Table, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	t := New()
	for i, name := range names {
		if err := t.Set(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Len returns the number of rows, or 0 for a table without columns.
func (t *Table) Len() int {
	if t.rows < 0 {
		return 0
	}
	return t.rows
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.names)
}

// Names returns the column names in insertion order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether a column with the given name exists.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.columns[name]
	return c, ok
}

// RequireColumn returns the named column or an error wrapping ErrUnknownColumn.
func (t *Table) RequireColumn(name string) (Column, error) {
	c, ok := t.columns[name]
	if !ok {
		return Column{}, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return c, nil
}

// Set adds or replaces a column. Replacing keeps the original position.
func (t *Table) Set(name string, c Column) error {
	if name == "" {
		return fmt.Errorf("column name is empty")
	}
	if err := c.Kind().Validate(); err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	if t.rows >= 0 && c.Len() != t.rows {
		return fmt.Errorf("%w: column %s has %d rows, table has %d",
			ErrLengthMismatch, name, c.Len(), t.rows)
	}
	if _, exists := t.columns[name]; !exists {
		t.names = append(t.names, name)
	}
	t.columns[name] = c
	t.rows = c.Len()
	return nil
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	if _, ok := t.columns[name]; !ok {
		return
	}
	delete(t.columns, name)
	for i, n := range t.names {
		if n == name {
			t.names = append(t.names[:i], t.names[i+1:]...)
			break
		}
	}
	if name == t.index {
		t.index = ""
	}
	if len(t.names) == 0 {
		t.rows = -1
	}
}

// Index returns the name of the row identifier column, if any.
func (t *Table) Index() string {
	return t.index
}

// SetIndex marks an existing column as the row identifier.
func (t *Table) SetIndex(name string) error {
	if name == "" {
		t.index = ""
		return nil
	}
	if !t.Has(name) {
		return fmt.Errorf("%w: index %s", ErrUnknownColumn, name)
	}
	t.index = name
	return nil
}

// Select returns a new table holding the named columns in the given order.
// The index column is carried over and placed first when present.
// Column data is shared, not copied.
func (t *Table) Select(names ...string) (*Table, error) {
	out := New()
	if t.index != "" {
		if err := out.Set(t.index, t.columns[t.index]); err != nil {
			return nil, err
		}
		out.index = t.index
	}
	for _, name := range names {
		c, err := t.RequireColumn(name)
		if err != nil {
			return nil, err
		}
		if err := out.Set(name, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New()
	for _, name := range t.names {
		_ = out.Set(name, t.columns[name].Clone())
	}
	out.index = t.index
	return out
}

// Records returns the rows as maps from column name to value, in row order.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, t.Len())
	for i := range out {
		row := make(map[string]any, len(t.names))
		for _, name := range t.names {
			row[name] = t.columns[name].Value(i)
		}
		out[i] = row
	}
	return out
}
