package engine

import (
	"fmt"
	"sort"
	"time"
)

// Registry holds every version of every known function. It is only read
// once built, so one registry may serve concurrent calls.
type Registry struct {
	// versions maps names to their time-versioned nodes in registration order
	versions map[string][]*Node

	// order records first registration of each name
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]*Node),
		order:    make([]string, 0),
	}
}

// Register adds nodes to the registry after validating their metadata.
// Several versions of one name may be registered with different periods.
// Column nodes are call-scoped and cannot be registered.
func (r *Registry) Register(nodes ...*Node) error {
	for _, n := range nodes {
		if n == nil {
			return NewInvalidNodeError("", "node is nil")
		}
		if err := n.Validate(); err != nil {
			return err
		}
		if n.Kind == NodeKindColumn {
			return NewInvalidNodeError(n.Name, "literal columns are supplied per call as overrides")
		}
	}
	for _, n := range nodes {
		if _, exists := r.versions[n.Name]; !exists {
			r.order = append(r.order, n.Name)
		}
		r.versions[n.Name] = append(r.versions[n.Name], n)
	}
	return nil
}

// Len returns the number of distinct names.
func (r *Registry) Len() int {
	return len(r.versions)
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Versions returns every registered version of a name.
func (r *Registry) Versions(name string) []*Node {
	out := make([]*Node, len(r.versions[name]))
	copy(out, r.versions[name])
	return out
}

// Overlapping returns the names with at least two versions whose periods
// share a day, sorted. Registration accepts them; Resolve fails only at dates
// inside the overlap.
func (r *Registry) Overlapping() []string {
	var names []string
	for _, name := range r.order {
		if versionsOverlap(r.versions[name]) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func versionsOverlap(versions []*Node) bool {
	for i := range versions {
		for j := i + 1; j < len(versions); j++ {
			if versions[i].Period.Overlaps(versions[j].Period) {
				return true
			}
		}
	}
	return false
}

// Resolve selects, for every name, the one version active at date and layers
// the overrides on top. Names with several active versions fail together in
// one AmbiguousPolicyError unless overridden. Names with no active version are
// recorded as inactive; the graph builder fails only if one is required.
func (r *Registry) Resolve(date time.Time, overrides Overrides) (*FunctionSet, error) {
	fs := &FunctionSet{
		date:     date,
		nodes:    make(map[string]*Node, len(r.versions)),
		inactive: make(map[string]bool),
	}

	var ambiguous []string
	for _, name := range r.order {
		var active []*Node
		for _, v := range r.versions[name] {
			if v.Period.Contains(date) {
				active = append(active, v)
			}
		}

		switch {
		case len(active) == 1:
			fs.nodes[name] = active[0]
		case len(active) == 0:
			fs.inactive[name] = true
		default:
			if _, overridden := overrides[name]; !overridden {
				ambiguous = append(ambiguous, name)
			}
		}
	}

	if len(ambiguous) > 0 {
		return nil, NewAmbiguousPolicyError(date.Format(DateLayout), ambiguous)
	}

	return fs.WithOverrides(overrides)
}

// FunctionSet is the closed set of nodes used for one call: at most one node
// per name.
type FunctionSet struct {
	// date is the policy date the set was resolved for, zero if built directly
	date time.Time

	// nodes maps names to their producing node
	nodes map[string]*Node

	// inactive holds registered names without a version at date
	inactive map[string]bool
}

// NewFunctionSet builds a function set directly from nodes, without time
// versioning. Duplicate names are rejected.
func NewFunctionSet(nodes ...*Node) (*FunctionSet, error) {
	fs := &FunctionSet{
		nodes:    make(map[string]*Node, len(nodes)),
		inactive: make(map[string]bool),
	}
	for _, n := range nodes {
		if n == nil {
			return nil, NewInvalidNodeError("", "node is nil")
		}
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if _, exists := fs.nodes[n.Name]; exists {
			return nil, NewInvalidNodeError(n.Name, "name defined more than once")
		}
		fs.nodes[n.Name] = n
	}
	return fs, nil
}

// WithOverrides returns a copy of the set in which each override replaces the
// node of the same name wholesale.
func (fs *FunctionSet) WithOverrides(overrides Overrides) (*FunctionSet, error) {
	out := &FunctionSet{
		date:     fs.date,
		nodes:    make(map[string]*Node, len(fs.nodes)+len(overrides)),
		inactive: make(map[string]bool, len(fs.inactive)),
	}
	for name, n := range fs.nodes {
		out.nodes[name] = n
	}
	for name := range fs.inactive {
		out.inactive[name] = true
	}

	for name, n := range overrides {
		if n == nil {
			return nil, NewInvalidNodeError(name, "override is nil")
		}
		if n.Name == "" {
			cp := *n
			cp.Name = name
			n = &cp
		}
		if n.Name != name {
			return nil, NewInvalidNodeError(name, fmt.Sprintf("override keyed %s is named %s", name, n.Name))
		}
		if err := n.Validate(); err != nil {
			return nil, err
		}
		out.nodes[name] = n
		delete(out.inactive, name)
	}
	return out, nil
}

// Date returns the policy date the set was resolved for.
func (fs *FunctionSet) Date() time.Time {
	return fs.date
}

// Lookup returns the node producing name.
func (fs *FunctionSet) Lookup(name string) (*Node, bool) {
	n, ok := fs.nodes[name]
	return n, ok
}

// Len returns the number of active nodes.
func (fs *FunctionSet) Len() int {
	return len(fs.nodes)
}

// Names returns the names of all active nodes, sorted.
func (fs *FunctionSet) Names() []string {
	names := make([]string, 0, len(fs.nodes))
	for name := range fs.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsInactive reports whether name is registered but has no version at the
// resolved date.
func (fs *FunctionSet) IsInactive(name string) bool {
	return fs.inactive[name]
}

// Inactive returns the inactive names, sorted.
func (fs *FunctionSet) Inactive() []string {
	names := make([]string, 0, len(fs.inactive))
	for name := range fs.inactive {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
