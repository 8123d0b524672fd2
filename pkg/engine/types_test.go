package engine

import (
	"testing"
	"time"

	"github.com/taxgraph/taxgraph/pkg/table"
)

func TestPeriod_Contains(t *testing.T) {
	p := Period{Start: mustDate(t, "2005-01-01"), End: mustDate(t, "2009-12-31")}

	tests := []struct {
		date time.Time
		want bool
	}{
		{mustDate(t, "2004-12-31"), false},
		{mustDate(t, "2005-01-01"), true},
		{mustDate(t, "2009-12-31").Add(23 * time.Hour), true},
		{mustDate(t, "2010-01-01"), false},
	}
	for _, tt := range tests {
		if got := p.Contains(tt.date); got != tt.want {
			t.Errorf("Contains(%s): expected %v, got %v", tt.date, tt.want, got)
		}
	}

	if !Always.Contains(mustDate(t, "1900-01-01")) {
		t.Error("Expected open period to contain every date")
	}
}

func TestPeriod_Overlaps(t *testing.T) {
	a := Period{Start: mustDate(t, "2005-01-01"), End: mustDate(t, "2009-12-31")}

	tests := []struct {
		name  string
		other Period
		want  bool
	}{
		{"adjacent after", Period{Start: mustDate(t, "2010-01-01")}, false},
		{"shares last day", Period{Start: mustDate(t, "2009-12-31")}, true},
		{"open", Always, true},
		{"before", Period{End: mustDate(t, "2004-12-31")}, false},
	}
	for _, tt := range tests {
		if got := a.Overlaps(tt.other); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
		if got := tt.other.Overlaps(a); got != tt.want {
			t.Errorf("%s (reversed): expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2005-01-01", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if p.String() != "2005-01-01.." {
		t.Errorf("Expected 2005-01-01.., got %s", p.String())
	}

	if _, err := ParsePeriod("2010-01-01", "2005-01-01"); err == nil {
		t.Error("Expected error for inverted period")
	}
	if _, err := ParsePeriod("01.01.2005", ""); err == nil {
		t.Error("Expected error for malformed date")
	}
}

func TestParams_Lookup(t *testing.T) {
	p := Params{
		"flat.key": 1.0,
		"eink_st": map[string]any{
			"grundfreibetrag": 9744,
			"tarif": map[string]any{
				"zone1": 0.14,
			},
		},
	}

	if v, ok := p.Lookup("flat.key"); !ok || v != 1.0 {
		t.Errorf("Expected exact dotted key to resolve, got %v", v)
	}
	if v, err := p.Float("eink_st.tarif.zone1"); err != nil || v != 0.14 {
		t.Errorf("Expected 0.14, got %v (%v)", v, err)
	}
	if v, err := p.Float("eink_st.grundfreibetrag"); err != nil || v != 9744 {
		t.Errorf("Expected 9744, got %v (%v)", v, err)
	}
	if p.Has("eink_st.missing") {
		t.Error("Expected missing key not to resolve")
	}
	if _, err := p.Float("eink_st.tarif"); err == nil {
		t.Error("Expected error converting a map to float")
	}

	sub := p.Subset([]string{"eink_st.tarif.zone1", "nope"})
	if len(sub) != 1 {
		t.Errorf("Expected subset of 1 key, got %v", sub)
	}
}

func TestNode_Dependencies(t *testing.T) {
	agg := NewAggregation("x_hh", "x", "hh_id", ReductionSum)
	if !equalStrings(agg.Dependencies(), []string{"x", "hh_id"}) {
		t.Errorf("Expected aggregation to depend on source and group, got %v", agg.Dependencies())
	}

	lit := Literal("x", table.FromInts([]int64{1}))
	if len(lit.Dependencies()) != 0 {
		t.Errorf("Expected literal to have no dependencies, got %v", lit.Dependencies())
	}
}
