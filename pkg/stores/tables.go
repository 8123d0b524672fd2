package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/taxgraph/taxgraph/pkg/table"
)

// LoadTable reads every row of a SQLite table or view. Column kinds
// follow the declared SQL type, or the stored values when no type is
// declared. NULL becomes a missing value. A non-empty index names the id
// column.
func (s *SQLiteStore) LoadTable(ctx context.Context, name, index string) (*table.Table, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+quoteIdent(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", name, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types of %s: %w", name, err)
	}

	names := make([]string, len(types))
	cells := make([][]any, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
	}

	for rows.Next() {
		dest := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", name, err)
		}
		for i, v := range dest {
			cells[i] = append(cells[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", name, err)
	}

	cols := make([]table.Column, len(types))
	for i, ct := range types {
		kind := declaredKind(ct.DatabaseTypeName())
		if kind == "" {
			kind = valueKind(cells[i])
		}
		col, err := buildColumn(kind, cells[i])
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", name, names[i], err)
		}
		cols[i] = col
	}

	t, err := table.FromColumns(names, cols)
	if err != nil {
		return nil, err
	}
	if index != "" {
		if err := t.SetIndex(index); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteTable replaces the SQLite table name with the contents of t.
func (s *SQLiteStore) WriteTable(ctx context.Context, name string, t *table.Table) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if t.Width() == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	names := t.Names()
	cols := make([]table.Column, len(names))
	defs := make([]string, len(names))
	for i, n := range names {
		col, _ := t.Column(n)
		cols[i] = col
		defs[i] = quoteIdent(n) + " " + sqlType(col.Kind())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE `+quoteIdent(name)+` (`+strings.Join(defs, ", ")+`)`); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quoteIdent(name)+` VALUES (`+placeholders+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for row := 0; row < t.Len(); row++ {
		for i, col := range cols {
			args[i] = col.Value(row)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", row, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table %s: %w", name, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(k table.Kind) string {
	switch k {
	case table.KindInt:
		return "INTEGER"
	case table.KindBool:
		return "BOOLEAN"
	case table.KindString:
		return "TEXT"
	default:
		return "REAL"
	}
}

// declaredKind maps a declared column type using SQLite's affinity rules,
// with BOOL checked first.
func declaredKind(decl string) table.Kind {
	decl = strings.ToUpper(decl)
	switch {
	case decl == "":
		return ""
	case strings.Contains(decl, "BOOL"):
		return table.KindBool
	case strings.Contains(decl, "INT"):
		return table.KindInt
	case strings.Contains(decl, "CHAR"), strings.Contains(decl, "CLOB"), strings.Contains(decl, "TEXT"):
		return table.KindString
	case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"),
		strings.Contains(decl, "NUM"), strings.Contains(decl, "DEC"):
		return table.KindFloat
	default:
		return ""
	}
}

// valueKind infers a kind from stored values. Integers mixed with reals
// widen to float; anything else mixed becomes string.
func valueKind(cells []any) table.Kind {
	var kind table.Kind
	for _, v := range cells {
		var k table.Kind
		switch v.(type) {
		case nil:
			continue
		case int64:
			k = table.KindInt
		case float64:
			k = table.KindFloat
		case bool:
			k = table.KindBool
		default:
			k = table.KindString
		}
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == table.KindInt && k == table.KindFloat) || (kind == table.KindFloat && k == table.KindInt):
			kind = table.KindFloat
		default:
			return table.KindString
		}
	}
	if kind == "" {
		return table.KindFloat
	}
	return kind
}

func buildColumn(kind table.Kind, cells []any) (table.Column, error) {
	n := len(cells)
	nulls := make([]bool, n)

	var col table.Column
	switch kind {
	case table.KindFloat:
		out := make([]float64, n)
		for i, v := range cells {
			switch x := v.(type) {
			case nil:
				nulls[i] = true
			case float64:
				out[i] = x
			case int64:
				out[i] = float64(x)
			case bool:
				if x {
					out[i] = 1
				}
			default:
				return table.Column{}, fmt.Errorf("row %d: %v is not a number", i, v)
			}
		}
		col = table.FromFloats(out)
	case table.KindInt:
		out := make([]int64, n)
		for i, v := range cells {
			switch x := v.(type) {
			case nil:
				nulls[i] = true
			case int64:
				out[i] = x
			case bool:
				if x {
					out[i] = 1
				}
			case float64:
				if x != float64(int64(x)) {
					return table.Column{}, fmt.Errorf("row %d: %v is not an integer", i, x)
				}
				out[i] = int64(x)
			default:
				return table.Column{}, fmt.Errorf("row %d: %v is not an integer", i, v)
			}
		}
		col = table.FromInts(out)
	case table.KindBool:
		out := make([]bool, n)
		for i, v := range cells {
			switch x := v.(type) {
			case nil:
				nulls[i] = true
			case bool:
				out[i] = x
			case int64:
				out[i] = x != 0
			case float64:
				out[i] = x != 0
			case string:
				switch strings.ToLower(x) {
				case "true", "1":
					out[i] = true
				case "false", "0":
				default:
					return table.Column{}, fmt.Errorf("row %d: %q is not a boolean", i, x)
				}
			default:
				return table.Column{}, fmt.Errorf("row %d: %v is not a boolean", i, v)
			}
		}
		col = table.FromBools(out)
	default:
		out := make([]string, n)
		for i, v := range cells {
			switch x := v.(type) {
			case nil:
				nulls[i] = true
			case string:
				out[i] = x
			case []byte:
				out[i] = string(x)
			default:
				out[i] = fmt.Sprint(x)
			}
		}
		col = table.FromStrings(out)
	}

	return col.WithNulls(nulls)
}
