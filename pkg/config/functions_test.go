package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/table"
)

const kindergeldModule = `
def _anspruch(alter):
    return [a < 18 for a in alter]

def _betrag(anspruch, satz):
    return [satz if x else 0.0 for x in anspruch]

function("kindergeld_anspruch", ["alter"], _anspruch)
function("kindergeld_m", ["kindergeld_anspruch"], _betrag, params = ["kindergeld.satz"])
aggregate("kindergeld_m_hh", "kindergeld_m", "hh_id")
`

func newTestModuleLoader(timeout time.Duration) *ModuleLoader {
	return NewModuleLoader(timeout, zerolog.Nop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestModuleLoader_LoadAndCompute(t *testing.T) {
	ml := newTestModuleLoader(0)
	path := writeFile(t, t.TempDir(), "kindergeld.star", kindergeldModule)

	reg, err := ml.LoadRegistry(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	data, err := table.FromColumns(
		[]string{"p_id", "hh_id", "alter"},
		[]table.Column{
			table.FromInts([]int64{1, 2, 3}),
			table.FromInts([]int64{1, 1, 2}),
			table.FromInts([]int64{5, 40, 12}),
		},
	)
	require.NoError(t, err)
	require.NoError(t, data.SetIndex("p_id"))

	params := engine.Params{"kindergeld": map[string]interface{}{"satz": 250}}
	res, err := reg.Compute(context.Background(), data, time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		[]string{"kindergeld_m", "kindergeld_m_hh"}, params, engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"p_id", "kindergeld_m", "kindergeld_m_hh"}, res.Table.Names())
	betrag, _ := res.Table.Column("kindergeld_m")
	assert.Equal(t, []float64{250, 0, 250}, betrag.Floats())
	hh, _ := res.Table.Column("kindergeld_m_hh")
	assert.Equal(t, []float64{250, 250, 250}, hh.Floats())
}

func TestModuleLoader_Options(t *testing.T) {
	ml := newTestModuleLoader(0)
	src := `
def _count(x):
    return [None if v < 0 else v for v in x]

def _half(x):
    return [v / 2 for v in x]

function("count", ["x"], _count, output = "int", start = "2020-01-01", end = "2020-12-31")
function("half", ["x"], _half, rounding = {"base": 1.0, "direction": "down"})
aggregate("x_max", "x", "hh_id", kind = "max")
`
	nodes, err := ml.Load(context.Background(), "opts.star", []byte(src))
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	count := nodes[0]
	assert.Equal(t, "2020-01-01..2020-12-31", count.Period.String())
	col, err := count.Fn([]table.Column{table.FromInts([]int64{3, -1})}, nil)
	require.NoError(t, err)
	assert.Equal(t, table.KindInt, col.Kind())
	assert.False(t, col.IsNull(0))
	assert.True(t, col.IsNull(1))

	half := nodes[1]
	require.NotNil(t, half.Rounding)
	assert.Equal(t, 1.0, half.Rounding.Base)
	assert.Equal(t, engine.RoundDown, half.Rounding.Direction)

	agg := nodes[2]
	assert.Equal(t, engine.NodeKindAggregation, agg.Kind)
	assert.Equal(t, engine.ReductionKind("max"), agg.Aggregation.Kind)
}

const nettoModule = `
def _netto(lohn):
    return [v * 0.6667 for v in lohn]

function("netto_m", ["bruttolohn_m"], _netto, rounding = {"params_key": "lohnsteuer.rundung"})
`

const rundungYAML = `
params:
  lohnsteuer:
    rundung:
      - from: "2020-01-01"
        value: {base: 1, direction: down}
      - from: "2023-01-01"
        value: {base: 0.01, direction: down}
`

func TestModuleLoader_RoundingFromDatedParams(t *testing.T) {
	dir := t.TempDir()
	ml := newTestModuleLoader(0)
	reg, err := ml.LoadRegistry(context.Background(), writeFile(t, dir, "netto.star", nettoModule))
	require.NoError(t, err)

	versions := reg.Versions("netto_m")
	require.Len(t, versions, 1)
	assert.Equal(t, "lohnsteuer.rundung", versions[0].Rounding.ParamsKey)

	data, err := table.FromColumns([]string{"bruttolohn_m"}, []table.Column{table.FromFloats([]float64{3000})})
	require.NoError(t, err)

	rl := NewRunLoader()
	paramsPath := writeFile(t, dir, "params.yaml", rundungYAML)

	tests := []struct {
		date string
		want float64
	}{
		{"2022-07-01", 2000},
		{"2023-07-01", 2000.1},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			policyDate := date(t, tt.date)
			params, err := rl.LoadParams(context.Background(), paramsPath, policyDate)
			require.NoError(t, err)

			res, err := reg.Compute(context.Background(), data, policyDate, []string{"netto_m"}, params,
				engine.Options{Rounding: true})
			require.NoError(t, err)

			col, _ := res.Table.Column("netto_m")
			assert.InDelta(t, tt.want, col.Floats()[0], 1e-9)
		})
	}

	_, err = reg.Compute(context.Background(), data, date(t, "2022-07-01"), []string{"netto_m"}, nil,
		engine.Options{Rounding: true})
	assert.ErrorIs(t, err, engine.ErrMissingInput)
}

func TestModuleLoader_InvalidDeclarations(t *testing.T) {
	ml := newTestModuleLoader(0)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"non-string input", `function("a", [1], lambda x: x)`, "inputs must contain strings"},
		{"bad output kind", `function("a", ["x"], lambda x: x, output = "complex")`, "complex"},
		{"bad period", `function("a", ["x"], lambda x: x, start = "2020-13-01")`, "2020-13-01"},
		{"rounding without base", `function("a", ["x"], lambda x: x, rounding = {})`, "requires a base"},
		{"rounding key with base", `function("a", ["x"], lambda x: x, rounding = {"params_key": "r", "base": 1.0})`, "cannot be combined"},
		{"missing body", `function("a", ["x"])`, "missing argument"},
		{"unknown builtin", `load_file("x")`, "undefined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ml.Load(context.Background(), "bad.star", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestModuleLoader_Timeout(t *testing.T) {
	ml := newTestModuleLoader(50 * time.Millisecond)

	spin := `
def _spin(x):
    for i in range(1000000000):
        pass
    return x
`

	t.Run("module", func(t *testing.T) {
		_, err := ml.Load(context.Background(), "spin.star", []byte(spin+"_spin([])\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})

	t.Run("function", func(t *testing.T) {
		nodes, err := ml.Load(context.Background(), "spin.star", []byte(spin+`function("s", ["x"], _spin)`+"\n"))
		require.NoError(t, err)

		_, err = nodes[0].Fn([]table.Column{table.FromFloats([]float64{1})}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := newTestModuleLoader(time.Minute)
		_, err := slow.Load(ctx, "spin.star", []byte(spin+"_spin([])\n"))
		require.Error(t, err)
	})
}

func TestModuleLoader_MissingParam(t *testing.T) {
	ml := newTestModuleLoader(0)
	nodes, err := ml.Load(context.Background(), "p.star",
		[]byte(`function("a", ["x"], lambda x, s: x, params = ["satz"])`))
	require.NoError(t, err)

	_, err = nodes[0].Fn([]table.Column{table.FromFloats([]float64{1})}, engine.Params{})
	assert.ErrorContains(t, err, "parameter satz not found")
}

func TestModuleLoader_LoadOverrides(t *testing.T) {
	ml := newTestModuleLoader(0)
	dir := t.TempDir()
	path := writeFile(t, dir, "overrides.star", `
function("a", [], lambda: [1.0], end = "2019-12-31")
function("a", [], lambda: [2.0], start = "2020-01-01")
`)

	overrides, err := ml.LoadOverrides(context.Background(), time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), path)
	require.NoError(t, err)
	require.Contains(t, overrides, "a")

	col, err := overrides["a"].Fn(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, col.Floats())

	none, err := ml.LoadOverrides(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ml.LoadOverrides(context.Background(), time.Now(), filepath.Join(dir, "missing.star"))
	assert.Error(t, err)
}

func TestListToColumn(t *testing.T) {
	list := func(vs ...starlark.Value) *starlark.List { return starlark.NewList(vs) }

	tests := []struct {
		name    string
		value   starlark.Value
		kind    table.Kind
		want    table.Kind
		nulls   int
		wantErr bool
	}{
		{"ints", list(starlark.MakeInt(1), starlark.MakeInt(2)), "", table.KindInt, 0, false},
		{"widened", list(starlark.MakeInt(1), starlark.Float(2.5)), "", table.KindFloat, 0, false},
		{"bool with none", list(starlark.True, starlark.None), "", table.KindBool, 1, false},
		{"empty", list(), "", table.KindFloat, 0, false},
		{"tuple", starlark.Tuple{starlark.String("a")}, "", table.KindString, 0, false},
		{"bool as float", list(starlark.True, starlark.Float(1)), table.KindFloat, table.KindFloat, 0, false},
		{"mixed", list(starlark.MakeInt(1), starlark.String("a")), "", "", 0, true},
		{"not a list", starlark.MakeInt(1), "", "", 0, true},
		{"wrong forced kind", list(starlark.String("a")), table.KindInt, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := listToColumn(tt.value, tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, col.Kind())
			assert.Equal(t, tt.nulls, col.NullCount())
		})
	}
}

func TestToStarlarkValue(t *testing.T) {
	v, err := toStarlarkValue(engine.Params{"a": []interface{}{1, 2.5, "x", true, nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a": [1, 2.5, "x", True, None]}`, v.String())

	_, err = toStarlarkValue(struct{}{})
	assert.Error(t, err)
}
