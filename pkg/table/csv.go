package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVOptions controls how delimited text is read.
type CSVOptions struct {
	// Index names the row identifier column. Empty means no index.
	Index string

	// Kinds forces the kind of specific columns instead of inferring it.
	Kinds map[string]Kind

	// Comma is the field delimiter. Zero means ','.
	Comma rune
}

// ReadCSV reads a table with a header row. Column kinds are inferred from the
// non-empty cells: int if every cell parses as an integer, then float, then
// bool, else string. Empty cells become nulls.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}

	header := records[0]
	rows := records[1:]
	seen := make(map[string]bool, len(header))
	t := New()

	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("csv column %d has an empty name", j+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("csv column %s appears more than once", name)
		}
		seen[name] = true

		cells := make([]string, len(rows))
		for i, row := range rows {
			cells[i] = strings.TrimSpace(row[j])
		}

		kind, forced := opts.Kinds[name]
		if !forced {
			kind = inferKind(cells)
		}
		col, err := parseCells(kind, cells)
		if err != nil {
			return nil, fmt.Errorf("csv column %s: %w", name, err)
		}
		if err := t.Set(name, col); err != nil {
			return nil, err
		}
	}

	if opts.Index != "" {
		if err := t.SetIndex(opts.Index); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteCSV writes the table with a header row. Nulls are written as empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	names := t.Names()
	record := make([]string, len(names))
	for i := 0; i < t.Len(); i++ {
		for j, name := range names {
			record[j] = t.columns[name].Format(i)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the table as an array of row objects.
func WriteJSON(w io.Writer, t *Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.Records()); err != nil {
		return fmt.Errorf("failed to encode table: %w", err)
	}
	return nil
}

func inferKind(cells []string) Kind {
	isInt, isFloat, isBool := true, true, true
	nonEmpty := 0
	for _, c := range cells {
		if c == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(c, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, err := parseBool(c); err != nil {
				isBool = false
			}
		}
	}
	switch {
	case nonEmpty == 0:
		return KindFloat
	case isInt:
		return KindInt
	case isFloat:
		return KindFloat
	case isBool:
		return KindBool
	default:
		return KindString
	}
}

func parseCells(kind Kind, cells []string) (Column, error) {
	nulls := make([]bool, len(cells))
	var col Column

	switch kind {
	case KindFloat:
		v := make([]float64, len(cells))
		for i, c := range cells {
			if c == "" {
				nulls[i] = true
				continue
			}
			f, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return Column{}, fmt.Errorf("row %d: %w", i+1, err)
			}
			v[i] = f
		}
		col = FromFloats(v)
	case KindInt:
		v := make([]int64, len(cells))
		for i, c := range cells {
			if c == "" {
				nulls[i] = true
				continue
			}
			n, err := strconv.ParseInt(c, 10, 64)
			if err != nil {
				return Column{}, fmt.Errorf("row %d: %w", i+1, err)
			}
			v[i] = n
		}
		col = FromInts(v)
	case KindBool:
		v := make([]bool, len(cells))
		for i, c := range cells {
			if c == "" {
				nulls[i] = true
				continue
			}
			b, err := parseBool(c)
			if err != nil {
				return Column{}, fmt.Errorf("row %d: %w", i+1, err)
			}
			v[i] = b
		}
		col = FromBools(v)
	case KindString:
		v := make([]string, len(cells))
		for i, c := range cells {
			if c == "" {
				nulls[i] = true
				continue
			}
			v[i] = c
		}
		col = FromStrings(v)
	default:
		return Column{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}

	return col.WithNulls(nulls)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes":
		return true, nil
	case "false", "f", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", s)
	}
}
