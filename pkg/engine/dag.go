package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the dependency graph needed to compute a set of targets.
// Edges run from an input to the node consuming it.
type Graph struct {
	// Targets are the requested names, duplicates removed, in request order.
	Targets []string `json:"targets" yaml:"targets"`

	// Nodes maps every reachable name to its graph node.
	Nodes map[string]*GraphNode `json:"nodes" yaml:"nodes"`

	// Edges lists every input relation.
	Edges []GraphEdge `json:"edges" yaml:"edges"`

	// Levels groups names by longest distance from a leaf. Names within a
	// level are sorted.
	Levels [][]string `json:"levels" yaml:"levels"`
}

// GraphNode is a name in the dependency graph.
type GraphNode struct {
	// Name is the column name.
	Name string `json:"name" yaml:"name"`

	// Node produces the column. Nil for leaves, which come from the data.
	Node *Node `json:"-" yaml:"-"`

	// Dependencies lists the inputs of this node.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Dependents lists the nodes consuming this one, sorted.
	Dependents []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`

	// Level is the position in the topological levelling.
	Level int `json:"level" yaml:"level"`
}

// IsLeaf reports whether the name must come from the data table.
func (n *GraphNode) IsLeaf() bool {
	return n.Node == nil
}

// Kind returns the producing node kind, or "leaf".
func (n *GraphNode) Kind() string {
	if n.Node == nil {
		return "leaf"
	}
	return string(n.Node.Kind)
}

// GraphEdge is a single input relation.
type GraphEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Order returns the names in topological order.
func (g *Graph) Order() []string {
	order := make([]string, 0, len(g.Nodes))
	for _, level := range g.Levels {
		order = append(order, level...)
	}
	return order
}

// Leaves returns the names that must come from the data table, sorted.
func (g *Graph) Leaves() []string {
	leaves := make([]string, 0)
	for name, n := range g.Nodes {
		if n.IsLeaf() {
			leaves = append(leaves, name)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Literals returns the names supplied as literal column overrides, sorted.
func (g *Graph) Literals() []string {
	names := make([]string, 0)
	for name, n := range g.Nodes {
		if n.Node != nil && n.Node.Kind == NodeKindColumn {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Params returns every parameter key read by a node in the graph, sorted.
func (g *Graph) Params() []string {
	seen := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.Node == nil {
			continue
		}
		for _, p := range n.Node.Params {
			seen[p] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RoundingParams returns the parameter keys that rounding specs of the graph
// read, sorted.
func (g *Graph) RoundingParams() []string {
	var keys []string
	for _, n := range g.Nodes {
		if n.Node != nil && n.Node.Rounding != nil && n.Node.Rounding.ParamsKey != "" {
			keys = append(keys, n.Node.Rounding.ParamsKey)
		}
	}
	keys = dedupe(keys)
	sort.Strings(keys)
	return keys
}

// Ancestors returns every name the given name transitively depends on, sorted.
func (g *Graph) Ancestors(name string) []string {
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		node, ok := g.Nodes[n]
		if !ok {
			return
		}
		for _, dep := range node.Dependencies {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(name)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Depth returns the number of levels.
func (g *Graph) Depth() int {
	return len(g.Levels)
}

// GraphBuilder builds the minimal dependency graph for a set of targets.
type GraphBuilder struct {
	// functions resolves names to their producing nodes
	functions *FunctionSet

	// available holds names present as data columns
	available map[string]bool

	// nodes holds every reached name, nil for leaves
	nodes map[string]*Node

	// adjacencyList maps names to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps names to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of dependencies of each name
	inDegree map[string]int

	// levels maps topological level to names at that level
	levels [][]string
}

// NewGraphBuilder creates a graph builder over a function set. Available lists
// the data column names; it decides whether a required inactive name is an
// error or simply supplied by the data.
func NewGraphBuilder(functions *FunctionSet, available []string) *GraphBuilder {
	b := &GraphBuilder{
		functions:            functions,
		available:            make(map[string]bool, len(available)),
		nodes:                make(map[string]*Node),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
	}
	for _, name := range available {
		b.available[name] = true
	}
	return b
}

// Build walks back from the targets through the function set and returns the
// reachable subgraph. Nothing outside the targets' ancestry is included.
func (b *GraphBuilder) Build(targets []string) (*Graph, error) {
	targets = dedupe(targets)
	for _, t := range targets {
		if t == "" {
			return nil, NewInvalidNodeError(t, "target name is empty")
		}
	}

	// Collect the reachable subgraph
	if err := b.collect(targets); err != nil {
		return nil, err
	}

	// Detect circular dependencies
	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	// Compute topological levels
	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildGraph(targets), nil
}

// collect performs reverse reachability from the targets.
func (b *GraphBuilder) collect(targets []string) error {
	var inactive []string
	stack := make([]string, 0, len(targets))
	for i := len(targets) - 1; i >= 0; i-- {
		stack = append(stack, targets[i])
	}

	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := b.nodes[name]; seen {
			continue
		}

		node, ok := b.functions.Lookup(name)
		if !ok {
			if b.functions.IsInactive(name) && !b.available[name] {
				inactive = append(inactive, name)
			}
			b.nodes[name] = nil
			b.inDegree[name] = 0
			continue
		}

		b.nodes[name] = node
		deps := node.Dependencies()
		b.inDegree[name] = len(deps)
		b.reverseAdjacencyList[name] = deps
		for _, dep := range deps {
			b.adjacencyList[dep] = append(b.adjacencyList[dep], name)
			if _, seen := b.nodes[dep]; !seen {
				stack = append(stack, dep)
			}
		}
	}

	if len(inactive) > 0 {
		return NewNoActivePolicyError(b.functions.Date().Format(DateLayout), inactive)
	}
	return nil
}

// detectCycles uses depth-first search to find every cycle in the reached
// subgraph. All cycles are reported in one error.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycles [][]string

	for _, name := range sortedKeys(b.nodes) {
		if !visited[name] {
			b.detectCyclesUtil(name, visited, recStack, nil, &cycles)
		}
	}

	if len(cycles) > 0 {
		return NewCyclicDependencyError(cycles)
	}
	return nil
}

// detectCyclesUtil follows dependencies depth first, recording a cycle for
// every back edge.
func (b *GraphBuilder) detectCyclesUtil(
	name string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
	cycles *[][]string,
) {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dep := range b.reverseAdjacencyList[name] {
		if !visited[dep] {
			b.detectCyclesUtil(dep, visited, recStack, path, cycles)
		} else if recStack[dep] {
			for i, n := range path {
				if n == dep {
					cycle := make([]string, 0, len(path)-i+1)
					cycle = append(cycle, path[i:]...)
					cycle = append(cycle, dep)
					*cycles = append(*cycles, cycle)
					break
				}
			}
		}
	}

	recStack[name] = false
}

// computeLevels assigns levels using Kahn's algorithm. Names within a level
// are sorted so the order is deterministic.
func (b *GraphBuilder) computeLevels() error {
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for name, degree := range b.inDegree {
		inDegreeCopy[name] = degree
	}

	currentLevel := make([]string, 0)
	for name, degree := range inDegreeCopy {
		if degree == 0 {
			currentLevel = append(currentLevel, name)
		}
	}

	processedCount := 0
	for len(currentLevel) > 0 {
		sort.Strings(currentLevel)
		b.levels = append(b.levels, currentLevel)
		processedCount += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, name := range currentLevel {
			for _, dependent := range b.adjacencyList[name] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	if processedCount != len(b.nodes) {
		return fmt.Errorf("failed to level all %d names, processed %d", len(b.nodes), processedCount)
	}
	return nil
}

// buildGraph creates the final Graph structure.
func (b *GraphBuilder) buildGraph(targets []string) *Graph {
	graph := &Graph{
		Targets: targets,
		Nodes:   make(map[string]*GraphNode, len(b.nodes)),
		Edges:   make([]GraphEdge, 0),
		Levels:  b.levels,
	}

	for level, names := range b.levels {
		for _, name := range names {
			dependents := dedupe(b.adjacencyList[name])
			sort.Strings(dependents)
			graph.Nodes[name] = &GraphNode{
				Name:         name,
				Node:         b.nodes[name],
				Dependencies: b.reverseAdjacencyList[name],
				Dependents:   dependents,
				Level:        level,
			}
			for _, dep := range b.reverseAdjacencyList[name] {
				graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: name})
			}
		}
	}

	return graph
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	targets := make(map[string]bool, len(g.Targets))
	for _, t := range g.Targets {
		targets[t] = true
	}

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			node := g.Nodes[name]
			attrs := fmt.Sprintf("shape=%s, fillcolor=\"%s\", style=\"filled,rounded\"",
				nodeShape(node), nodeColor(node))
			if targets[name] {
				attrs += ", penwidth=2"
			}
			sb.WriteString(fmt.Sprintf("    %q [%s];\n", name, attrs))
		}

		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", e.From, e.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// nodeShape returns a DOT shape for a graph node kind.
func nodeShape(n *GraphNode) string {
	switch n.Kind() {
	case "leaf":
		return "ellipse"
	case string(NodeKindAggregation):
		return "hexagon"
	case string(NodeKindColumn):
		return "note"
	default:
		return "box"
	}
}

// nodeColor returns a fill color for a graph node kind.
func nodeColor(n *GraphNode) string {
	switch n.Kind() {
	case "leaf":
		return "lightgray"
	case string(NodeKindAggregation):
		return "lightblue"
	case string(NodeKindColumn):
		return "lightyellow"
	default:
		return "lightgreen"
	}
}

// Validate performs consistency checks on a built graph.
func (g *Graph) Validate() error {
	for _, edge := range g.Edges {
		if _, exists := g.Nodes[edge.From]; !exists {
			return fmt.Errorf("edge references non-existent node: %s", edge.From)
		}
		if _, exists := g.Nodes[edge.To]; !exists {
			return fmt.Errorf("edge references non-existent node: %s", edge.To)
		}
		if g.Nodes[edge.From].Level >= g.Nodes[edge.To].Level {
			return fmt.Errorf("edge %s -> %s does not increase level", edge.From, edge.To)
		}
	}
	for _, t := range g.Targets {
		if _, exists := g.Nodes[t]; !exists {
			return fmt.Errorf("target %s missing from graph", t)
		}
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
