package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestGraphBuilder_Build_Minimal(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("a", []string{"x"}, 1, nil),
		constFunction("b", []string{"a"}, 1, nil),
		constFunction("c", []string{"a", "y"}, 1, nil),
		constFunction("unrelated", []string{"z"}, 1, nil),
	)

	graph, err := NewGraphBuilder(fs, []string{"x", "y", "z"}).Build([]string{"b"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(graph.Nodes) != 3 {
		t.Errorf("Expected 3 nodes (x, a, b), got %d", len(graph.Nodes))
	}
	for _, name := range []string{"c", "unrelated", "y", "z"} {
		if _, ok := graph.Nodes[name]; ok {
			t.Errorf("Expected %s to be excluded from the graph", name)
		}
	}
	if !equalStrings(graph.Leaves(), []string{"x"}) {
		t.Errorf("Expected leaves [x], got %v", graph.Leaves())
	}
	if !equalStrings(graph.Order(), []string{"x", "a", "b"}) {
		t.Errorf("Expected order [x a b], got %v", graph.Order())
	}
	if err := graph.Validate(); err != nil {
		t.Errorf("Expected valid graph, got: %v", err)
	}
}

func TestGraphBuilder_Build_DeterministicLevels(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("total", []string{"z_part", "a_part", "m_part"}, 0, nil),
		constFunction("z_part", []string{"x"}, 0, nil),
		constFunction("a_part", []string{"x"}, 0, nil),
		constFunction("m_part", []string{"y"}, 0, nil),
	)

	var first []string
	for i := 0; i < 20; i++ {
		graph, err := NewGraphBuilder(fs, nil).Build([]string{"total"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		order := graph.Order()
		if i == 0 {
			first = order
			continue
		}
		if !equalStrings(order, first) {
			t.Fatalf("Expected identical order across builds, got %v and %v", first, order)
		}
	}

	want := []string{"x", "y", "a_part", "m_part", "z_part", "total"}
	if !equalStrings(first, want) {
		t.Errorf("Expected order %v, got %v", want, first)
	}
}

func TestGraphBuilder_Build_Levels(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("a", []string{"x"}, 0, nil),
		constFunction("b", []string{"a", "x"}, 0, nil),
	)

	graph, err := NewGraphBuilder(fs, nil).Build([]string{"b"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if graph.Depth() != 3 {
		t.Fatalf("Expected depth 3, got %d", graph.Depth())
	}
	if graph.Nodes["b"].Level != 2 {
		t.Errorf("Expected b at level 2, got %d", graph.Nodes["b"].Level)
	}
	if !equalStrings(graph.Nodes["x"].Dependents, []string{"a", "b"}) {
		t.Errorf("Expected x dependents [a b], got %v", graph.Nodes["x"].Dependents)
	}
	if len(graph.Edges) != 3 {
		t.Errorf("Expected 3 edges, got %d", len(graph.Edges))
	}
}

func TestGraphBuilder_Build_DuplicateTargets(t *testing.T) {
	fs := mustFunctionSet(t, constFunction("a", []string{"x"}, 0, nil))

	graph, err := NewGraphBuilder(fs, nil).Build([]string{"a", "x", "a"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !equalStrings(graph.Targets, []string{"a", "x"}) {
		t.Errorf("Expected targets [a x], got %v", graph.Targets)
	}
}

func TestGraphBuilder_Build_UnknownTargetIsLeaf(t *testing.T) {
	fs := mustFunctionSet(t)

	graph, err := NewGraphBuilder(fs, nil).Build([]string{"nope"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !graph.Nodes["nope"].IsLeaf() {
		t.Error("Expected unknown target to be a leaf")
	}
}

func TestGraphBuilder_Build_SimpleCycle(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("a", []string{"b"}, 0, nil),
		constFunction("b", []string{"a"}, 0, nil),
	)

	_, err := NewGraphBuilder(fs, nil).Build([]string{"a"})
	if err == nil {
		t.Fatal("Expected cycle error, got nil")
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Expected ErrCyclicDependency, got: %v", err)
	}
	if !IsConfigurationError(err) {
		t.Error("Expected configuration error class")
	}

	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected *CyclicDependencyError, got %T", err)
	}
	if len(cycleErr.Cycles) != 1 {
		t.Fatalf("Expected 1 cycle, got %d", len(cycleErr.Cycles))
	}
	if !strings.Contains(err.Error(), "a -> b -> a") {
		t.Errorf("Expected cycle path in message, got: %v", err)
	}
}

func TestGraphBuilder_Build_SelfCycle(t *testing.T) {
	fs := mustFunctionSet(t, constFunction("x", []string{"x"}, 0, nil))

	reg := NewRegistry()
	if err := reg.Register(constFunction("x", []string{"x"}, 0, nil)); err != nil {
		t.Fatalf("Expected self input to register, got: %v", err)
	}

	_, err := NewGraphBuilder(fs, nil).Build([]string{"x"})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Expected ErrCyclicDependency, got: %v", err)
	}

	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected *CyclicDependencyError, got %T", err)
	}
	if len(cycleErr.Cycles) != 1 || !equalStrings(cycleErr.Cycles[0], []string{"x", "x"}) {
		t.Errorf("Expected cycle [x x], got %v", cycleErr.Cycles)
	}
	if !strings.Contains(err.Error(), "x -> x") {
		t.Errorf("Expected cycle path in message, got: %v", err)
	}
}

func TestGraphBuilder_Build_ReportsAllCycles(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("a", []string{"b"}, 0, nil),
		constFunction("b", []string{"a"}, 0, nil),
		constFunction("c", []string{"d"}, 0, nil),
		constFunction("d", []string{"e"}, 0, nil),
		constFunction("e", []string{"c"}, 0, nil),
		constFunction("top", []string{"a", "c"}, 0, nil),
	)

	_, err := NewGraphBuilder(fs, nil).Build([]string{"top"})

	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected *CyclicDependencyError, got %v", err)
	}
	if len(cycleErr.Cycles) != 2 {
		t.Errorf("Expected 2 cycles, got %d: %v", len(cycleErr.Cycles), cycleErr.Cycles)
	}
}

func TestGraphBuilder_Build_InactiveRequired(t *testing.T) {
	reg := NewRegistry()
	old := constFunction("abgeschafft", []string{"x"}, 0, nil).
		WithPeriod(Period{End: mustDate(t, "2004-12-31")})
	user := constFunction("user", []string{"abgeschafft", "other_old"}, 0, nil)
	other := constFunction("other_old", []string{"x"}, 0, nil).
		WithPeriod(Period{End: mustDate(t, "2001-12-31")})
	if err := reg.Register(old, user, other); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	fs, err := reg.Resolve(mustDate(t, "2020-01-01"), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = NewGraphBuilder(fs, []string{"x"}).Build([]string{"user"})
	var inactiveErr *NoActivePolicyError
	if !errors.As(err, &inactiveErr) {
		t.Fatalf("Expected *NoActivePolicyError, got %v", err)
	}
	if !equalStrings(inactiveErr.Names, []string{"abgeschafft", "other_old"}) {
		t.Errorf("Expected both inactive names, got %v", inactiveErr.Names)
	}

	// Supplying the inactive names as data makes them plain leaves.
	graph, err := NewGraphBuilder(fs, []string{"abgeschafft", "other_old"}).Build([]string{"user"})
	if err != nil {
		t.Fatalf("Expected no error when inactive names are supplied, got: %v", err)
	}
	if !graph.Nodes["abgeschafft"].IsLeaf() {
		t.Error("Expected supplied inactive name to be a leaf")
	}
}

func TestGraphBuilder_Build_LiteralPrunesAncestors(t *testing.T) {
	fs := mustFunctionSet(t,
		constFunction("a", []string{"x"}, 0, nil),
		constFunction("b", []string{"a"}, 0, nil),
	)
	fs, err := fs.WithOverrides(Overrides{"a": Literal("a", floatColumn(1, 2))})
	if err != nil {
		t.Fatalf("Failed to apply override: %v", err)
	}

	graph, err := NewGraphBuilder(fs, nil).Build([]string{"b"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := graph.Nodes["x"]; ok {
		t.Error("Expected x to be pruned once a is a literal")
	}
	if !equalStrings(graph.Literals(), []string{"a"}) {
		t.Errorf("Expected literals [a], got %v", graph.Literals())
	}
	if len(graph.Leaves()) != 0 {
		t.Errorf("Expected no data leaves, got %v", graph.Leaves())
	}
}

func TestGraph_Ancestors(t *testing.T) {
	fs := mustFunctionSet(t, kindergeldFunctions()...)
	graph, err := NewGraphBuilder(fs, nil).Build([]string{"kindergeld_m_hh"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"alter", "hh_id", "kindergeld_anspruch", "kindergeld_m"}
	if got := graph.Ancestors("kindergeld_m_hh"); !equalStrings(got, want) {
		t.Errorf("Expected ancestors %v, got %v", want, got)
	}
	if !equalStrings(graph.Params(), []string{"kindergeld.satz"}) {
		t.Errorf("Expected params [kindergeld.satz], got %v", graph.Params())
	}
}

func TestGraph_ToDOT(t *testing.T) {
	fs := mustFunctionSet(t, kindergeldFunctions()...)
	graph, err := NewGraphBuilder(fs, nil).Build([]string{"kindergeld_m_hh"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := graph.ToDOT()

	if !strings.HasPrefix(dot, "digraph DependencyGraph {") {
		t.Error("DOT output should start with digraph declaration")
	}
	if !strings.Contains(dot, `"kindergeld_m" -> "kindergeld_m_hh"`) {
		t.Error("DOT output should contain aggregation edge")
	}
	if !strings.Contains(dot, "shape=hexagon") {
		t.Error("DOT output should draw aggregations as hexagons")
	}
	if !strings.Contains(dot, "penwidth=2") {
		t.Error("DOT output should highlight targets")
	}
}
