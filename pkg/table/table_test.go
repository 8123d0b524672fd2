package table

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Set(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("p_id", FromInts([]int64{1, 2, 3})))
	require.NoError(t, tbl.Set("income", FromFloats([]float64{10, 20, 30})))

	err := tbl.Set("short", FromFloats([]float64{1}))
	require.ErrorIs(t, err, ErrLengthMismatch)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"p_id", "income"}, tbl.Names())

	// Replacing keeps position.
	require.NoError(t, tbl.Set("p_id", FromInts([]int64{4, 5, 6})))
	assert.Equal(t, []string{"p_id", "income"}, tbl.Names())
	c, ok := tbl.Column("p_id")
	require.True(t, ok)
	assert.Equal(t, []int64{4, 5, 6}, c.Ints())
}

func TestTable_Set_InvalidColumn(t *testing.T) {
	tbl := New()
	require.Error(t, tbl.Set("", FromInts([]int64{1})))
	require.ErrorIs(t, tbl.Set("x", Column{}), ErrUnknownKind)
}

func TestTable_Drop(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("a", FromInts([]int64{1, 2})))
	require.NoError(t, tbl.Set("b", FromInts([]int64{3, 4})))
	require.NoError(t, tbl.SetIndex("a"))

	tbl.Drop("a")
	assert.Equal(t, []string{"b"}, tbl.Names())
	assert.Empty(t, tbl.Index())

	tbl.Drop("b")
	assert.Equal(t, 0, tbl.Len())
	require.NoError(t, tbl.Set("c", FromInts([]int64{1, 2, 3})))
	assert.Equal(t, 3, tbl.Len())
}

func TestTable_Select(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("p_id", FromInts([]int64{1, 2})))
	require.NoError(t, tbl.Set("a", FromFloats([]float64{1, 2})))
	require.NoError(t, tbl.Set("b", FromFloats([]float64{3, 4})))
	require.NoError(t, tbl.SetIndex("p_id"))

	out, err := tbl.Select("b", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"p_id", "b", "a"}, out.Names())
	assert.Equal(t, "p_id", out.Index())

	_, err = tbl.Select("missing")
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestTable_SetIndex_Unknown(t *testing.T) {
	tbl := New()
	require.ErrorIs(t, tbl.SetIndex("p_id"), ErrUnknownColumn)
}

func TestTable_Clone(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("a", FromFloats([]float64{1, 2})))

	clone := tbl.Clone()
	c, _ := clone.Column("a")
	c.Floats()[0] = 99

	orig, _ := tbl.Column("a")
	assert.Equal(t, 1.0, orig.Floats()[0])
}

func TestColumn_AsFloats(t *testing.T) {
	f, err := FromBools([]bool{true, false}).AsFloats()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, f)

	f, err = FromInts([]int64{3, -1}).AsFloats()
	require.NoError(t, err)
	assert.Equal(t, []float64{3, -1}, f)

	_, err = FromStrings([]string{"x"}).AsFloats()
	require.ErrorIs(t, err, ErrKindMismatch)
}

func TestColumn_WithNulls(t *testing.T) {
	c, err := FromFloats([]float64{1, 2, 3}).WithNulls([]bool{false, true, false})
	require.NoError(t, err)
	assert.True(t, c.HasNulls())
	assert.True(t, c.IsNull(1))
	assert.Equal(t, 1, c.NullCount())
	assert.Nil(t, c.Value(1))
	assert.Equal(t, "", c.Format(1))

	// An all-false mask is dropped.
	c, err = FromFloats([]float64{1}).WithNulls([]bool{false})
	require.NoError(t, err)
	assert.False(t, c.HasNulls())

	_, err = FromFloats([]float64{1}).WithNulls([]bool{false, false})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestColumn_Equal(t *testing.T) {
	nan := math.NaN()
	assert.True(t, FromFloats([]float64{nan, 1}).Equal(FromFloats([]float64{nan, 1})))
	assert.False(t, FromFloats([]float64{1}).Equal(FromInts([]int64{1})))
	assert.False(t, FromStrings([]string{"a"}).Equal(FromStrings([]string{"b"})))

	a, _ := FromInts([]int64{1, 0}).WithNulls([]bool{false, true})
	b, _ := FromInts([]int64{1, 7}).WithNulls([]bool{false, true})
	assert.True(t, a.Equal(b))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"float", KindFloat},
		{"integer", KindInt},
		{"boolean", KindBool},
		{"text", KindString},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseKind("decimal")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestReadCSV(t *testing.T) {
	in := `p_id,hh_id,income,is_child,name
1,1,100.5,false,anna
2,1,,true,ben
3,2,300,false,
`
	tbl, err := ReadCSV(strings.NewReader(in), CSVOptions{Index: "p_id"})
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "p_id", tbl.Index())

	kinds := map[string]Kind{}
	for _, name := range tbl.Names() {
		c, _ := tbl.Column(name)
		kinds[name] = c.Kind()
	}
	assert.Equal(t, map[string]Kind{
		"p_id":     KindInt,
		"hh_id":    KindInt,
		"income":   KindFloat,
		"is_child": KindBool,
		"name":     KindString,
	}, kinds)

	income, _ := tbl.Column("income")
	assert.True(t, income.IsNull(1))
	assert.Equal(t, 300.0, income.Floats()[2])

	name, _ := tbl.Column("name")
	assert.True(t, name.IsNull(2))
}

func TestReadCSV_ForcedKind(t *testing.T) {
	in := "hh_id,x\n1,2\n"
	tbl, err := ReadCSV(strings.NewReader(in), CSVOptions{Kinds: map[string]Kind{"x": KindFloat}})
	require.NoError(t, err)

	x, _ := tbl.Column("x")
	assert.Equal(t, KindFloat, x.Kind())
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), CSVOptions{})
	require.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a,a\n1,2\n"), CSVOptions{})
	require.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a\n1\n"), CSVOptions{Index: "p_id"})
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = ReadCSV(strings.NewReader("a\nx\n"), CSVOptions{Kinds: map[string]Kind{"a": KindInt}})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("p_id", FromInts([]int64{1, 2})))
	amount, _ := FromFloats([]float64{1.5, 0}).WithNulls([]bool{false, true})
	require.NoError(t, tbl.Set("amount", amount))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t, "p_id,amount\n1,1.5\n2,\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set("p_id", FromInts([]int64{1})))
	require.NoError(t, tbl.Set("ok", FromBools([]bool{true})))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, tbl))
	assert.JSONEq(t, `[{"p_id":1,"ok":true}]`, buf.String())
}
