package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/table"
)

// DefaultModuleTimeout bounds module execution and every function call.
const DefaultModuleTimeout = 30 * time.Second

// nodesLocal is the thread-local key holding the nodes registered by a module.
const nodesLocal = "taxgraph.nodes"

// ModuleLoader executes Starlark function modules. A module declares nodes
// through two builtins:
//
//	function(name, inputs, body, params=[], start=None, end=None, output=None, rounding=None)
//	aggregate(name, source, group, kind="sum", start=None, end=None)
//
// body receives one list per input followed by one value per param and
// returns a list with one value per row. None marks a missing value.
type ModuleLoader struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewModuleLoader creates a loader. A zero timeout uses DefaultModuleTimeout.
func NewModuleLoader(timeout time.Duration, logger zerolog.Logger) *ModuleLoader {
	if timeout == 0 {
		timeout = DefaultModuleTimeout
	}
	return &ModuleLoader{
		timeout: timeout,
		logger:  logger,
	}
}

// LoadFile executes the module at path and returns the nodes it declares.
func (ml *ModuleLoader) LoadFile(ctx context.Context, path string) ([]*engine.Node, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	return ml.Load(ctx, path, src)
}

// Load executes module source and returns the nodes it declares, in
// declaration order.
func (ml *ModuleLoader) Load(ctx context.Context, filename string, src []byte) ([]*engine.Node, error) {
	thread := ml.newThread(filename)

	var nodes []*engine.Node
	thread.SetLocal(nodesLocal, &nodes)

	stop := ml.watch(ctx, thread)
	defer stop()

	if _, err := starlark.ExecFile(thread, filename, src, ml.builtins()); err != nil {
		return nil, fmt.Errorf("module %s: %w", filename, err)
	}

	ml.logger.Debug().Str("module", filename).Int("nodes", len(nodes)).Msg("Loaded function module")
	return nodes, nil
}

// LoadRegistry loads every module into one registry.
func (ml *ModuleLoader) LoadRegistry(ctx context.Context, paths ...string) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, path := range paths {
		nodes, err := ml.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(nodes...); err != nil {
			return nil, fmt.Errorf("module %s: %w", path, err)
		}
	}
	return reg, nil
}

// LoadOverrides loads override modules and keeps the version of each name
// active at date.
func (ml *ModuleLoader) LoadOverrides(ctx context.Context, date time.Time, paths ...string) (engine.Overrides, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	reg, err := ml.LoadRegistry(ctx, paths...)
	if err != nil {
		return nil, err
	}
	fs, err := reg.Resolve(date, nil)
	if err != nil {
		return nil, err
	}

	overrides := make(engine.Overrides, fs.Len())
	for _, name := range fs.Names() {
		node, _ := fs.Lookup(name)
		overrides[name] = node
	}
	return overrides, nil
}

func (ml *ModuleLoader) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			ml.logger.Debug().Str("thread", t.Name).Msg(msg)
		},
	}
}

// watch cancels the thread when ctx ends or the timeout passes. The returned
// func must be called once the thread is done.
func (ml *ModuleLoader) watch(ctx context.Context, thread *starlark.Thread) func() {
	ctx, cancel := context.WithTimeout(ctx, ml.timeout)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	return func() {
		close(done)
		cancel()
	}
}

func (ml *ModuleLoader) builtins() starlark.StringDict {
	return starlark.StringDict{
		"function":  starlark.NewBuiltin("function", ml.builtinFunction),
		"aggregate": starlark.NewBuiltin("aggregate", builtinAggregate),
	}
}

func (ml *ModuleLoader) builtinFunction(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name     string
		inputs   starlark.Iterable
		body     starlark.Callable
		params   starlark.Iterable
		start    starlark.Value = starlark.None
		end      starlark.Value = starlark.None
		output   starlark.Value = starlark.None
		rounding starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"inputs", &inputs,
		"body", &body,
		"params?", &params,
		"start?", &start,
		"end?", &end,
		"output?", &output,
		"rounding?", &rounding,
	); err != nil {
		return nil, err
	}

	inputNames, err := stringList("inputs", inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	paramKeys, err := stringList("params", params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	var kind table.Kind
	if s, err := optionalString("output", output); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	} else if s != "" {
		if kind, err = table.ParseKind(s); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}

	period, err := parsePeriod(start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	node := engine.NewFunction(name, inputNames, ml.wrap(name, body, paramKeys, kind)).
		WithParams(paramKeys...).
		WithPeriod(period)

	if rounding != starlark.None {
		r, err := parseRounding(rounding)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		node = node.WithRounding(r)
	}

	return register(thread, node)
}

func builtinAggregate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name, source, group string
		kind                = "sum"
		start               starlark.Value = starlark.None
		end                 starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"source", &source,
		"group", &group,
		"kind?", &kind,
		"start?", &start,
		"end?", &end,
	); err != nil {
		return nil, err
	}

	period, err := parsePeriod(start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	node := engine.NewAggregation(name, source, group, engine.ReductionKind(kind)).WithPeriod(period)
	return register(thread, node)
}

// register validates node and records it on the module's thread.
func register(thread *starlark.Thread, node *engine.Node) (starlark.Value, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	nodes, ok := thread.Local(nodesLocal).(*[]*engine.Node)
	if !ok {
		return nil, fmt.Errorf("%s may only be declared at module load", node.Name)
	}
	*nodes = append(*nodes, node)
	return starlark.None, nil
}

// wrap turns a Starlark body into an engine.Func. Each call runs on a fresh
// thread bounded by the loader timeout.
func (ml *ModuleLoader) wrap(name string, body starlark.Callable, params []string, kind table.Kind) engine.Func {
	return func(args []table.Column, p engine.Params) (table.Column, error) {
		thread := ml.newThread(name)
		stop := ml.watch(context.Background(), thread)
		defer stop()

		callArgs := make(starlark.Tuple, 0, len(args)+len(params))
		for _, col := range args {
			callArgs = append(callArgs, columnToList(col))
		}
		for _, key := range params {
			v, ok := p.Lookup(key)
			if !ok {
				return table.Column{}, fmt.Errorf("parameter %s not found", key)
			}
			sv, err := toStarlarkValue(v)
			if err != nil {
				return table.Column{}, fmt.Errorf("parameter %s: %w", key, err)
			}
			callArgs = append(callArgs, sv)
		}

		res, err := starlark.Call(thread, body, callArgs, nil)
		if err != nil {
			return table.Column{}, err
		}
		return listToColumn(res, kind)
	}
}

func stringList(what string, it starlark.Iterable) ([]string, error) {
	if it == nil {
		return nil, nil
	}
	iter := it.Iterate()
	defer iter.Done()

	var out []string
	var x starlark.Value
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("%s must contain strings, got %s", what, x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(what string, v starlark.Value) (string, error) {
	if v == starlark.None {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s must be a string or None, got %s", what, v.Type())
	}
	return s, nil
}

func parsePeriod(start, end starlark.Value) (engine.Period, error) {
	s, err := optionalString("start", start)
	if err != nil {
		return engine.Period{}, err
	}
	e, err := optionalString("end", end)
	if err != nil {
		return engine.Period{}, err
	}
	return engine.ParsePeriod(s, e)
}

// parseRounding reads {"base": 0.01, "direction": "down"} or
// {"params_key": "lohnsteuer.rundung"}. Direction defaults to nearest.
func parseRounding(v starlark.Value) (*engine.Rounding, error) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("rounding must be a dict, got %s", v.Type())
	}

	if key, found, err := d.Get(starlark.String("params_key")); err != nil {
		return nil, err
	} else if found {
		s, ok := starlark.AsString(key)
		if !ok || s == "" {
			return nil, fmt.Errorf("rounding params_key must be a non-empty string, got %s", key)
		}
		if d.Len() != 1 {
			return nil, fmt.Errorf("rounding params_key cannot be combined with base or direction")
		}
		return &engine.Rounding{ParamsKey: s}, nil
	}

	r := &engine.Rounding{Direction: engine.RoundNearest}

	base, found, err := d.Get(starlark.String("base"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("rounding requires a base")
	}
	f, ok := starlark.AsFloat(base)
	if !ok {
		return nil, fmt.Errorf("rounding base must be a number, got %s", base.Type())
	}
	r.Base = f

	if dir, found, err := d.Get(starlark.String("direction")); err != nil {
		return nil, err
	} else if found {
		s, ok := starlark.AsString(dir)
		if !ok {
			return nil, fmt.Errorf("rounding direction must be a string, got %s", dir.Type())
		}
		r.Direction = engine.RoundingDirection(s)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// columnToList converts a column to a Starlark list. Missing rows become None.
func columnToList(col table.Column) *starlark.List {
	elems := make([]starlark.Value, col.Len())
	for i := range elems {
		switch v := col.Value(i).(type) {
		case float64:
			elems[i] = starlark.Float(v)
		case int64:
			elems[i] = starlark.MakeInt64(v)
		case bool:
			elems[i] = starlark.Bool(v)
		case string:
			elems[i] = starlark.String(v)
		default:
			elems[i] = starlark.None
		}
	}
	return starlark.NewList(elems)
}

// listToColumn converts a returned sequence to a column of kind, or of the
// inferred kind when kind is empty.
func listToColumn(v starlark.Value, kind table.Kind) (table.Column, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok {
		return table.Column{}, fmt.Errorf("function must return a list, got %s", v.Type())
	}

	n := seq.Len()
	if kind == "" {
		inferred, err := inferKind(seq)
		if err != nil {
			return table.Column{}, err
		}
		kind = inferred
	}

	nulls := make([]bool, n)
	var col table.Column
	switch kind {
	case table.KindFloat:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			x := seq.Index(i)
			if x == starlark.None {
				nulls[i] = true
				continue
			}
			f, ok := starlark.AsFloat(x)
			if !ok {
				if b, isBool := x.(starlark.Bool); isBool {
					f, ok = boolFloat(bool(b)), true
				}
			}
			if !ok {
				return table.Column{}, fmt.Errorf("row %d: expected number, got %s", i, x.Type())
			}
			out[i] = f
		}
		col = table.FromFloats(out)
	case table.KindInt:
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			x := seq.Index(i)
			if x == starlark.None {
				nulls[i] = true
				continue
			}
			iv, ok := x.(starlark.Int)
			if !ok {
				return table.Column{}, fmt.Errorf("row %d: expected int, got %s", i, x.Type())
			}
			i64, ok := iv.Int64()
			if !ok {
				return table.Column{}, fmt.Errorf("row %d: int out of range", i)
			}
			out[i] = i64
		}
		col = table.FromInts(out)
	case table.KindBool:
		out := make([]bool, n)
		for i := 0; i < n; i++ {
			x := seq.Index(i)
			if x == starlark.None {
				nulls[i] = true
				continue
			}
			b, ok := x.(starlark.Bool)
			if !ok {
				return table.Column{}, fmt.Errorf("row %d: expected bool, got %s", i, x.Type())
			}
			out[i] = bool(b)
		}
		col = table.FromBools(out)
	case table.KindString:
		out := make([]string, n)
		for i := 0; i < n; i++ {
			x := seq.Index(i)
			if x == starlark.None {
				nulls[i] = true
				continue
			}
			s, ok := starlark.AsString(x)
			if !ok {
				return table.Column{}, fmt.Errorf("row %d: expected string, got %s", i, x.Type())
			}
			out[i] = s
		}
		col = table.FromStrings(out)
	default:
		return table.Column{}, fmt.Errorf("unsupported output kind %q", kind)
	}

	return col.WithNulls(nulls)
}

// inferKind picks the narrowest kind holding every non-None element. Ints
// mixed with floats widen to float; other mixtures are an error.
func inferKind(seq starlark.Indexable) (table.Kind, error) {
	seen := make(map[table.Kind]bool)
	for i := 0; i < seq.Len(); i++ {
		switch x := seq.Index(i).(type) {
		case starlark.NoneType:
		case starlark.Float:
			seen[table.KindFloat] = true
		case starlark.Int:
			seen[table.KindInt] = true
		case starlark.Bool:
			seen[table.KindBool] = true
		case starlark.String:
			seen[table.KindString] = true
		default:
			return "", fmt.Errorf("row %d: unsupported value of type %s", i, x.Type())
		}
	}

	switch {
	case len(seen) == 0:
		return table.KindFloat, nil
	case len(seen) == 1:
		for k := range seen {
			return k, nil
		}
	case len(seen) == 2 && seen[table.KindFloat] && seen[table.KindInt]:
		return table.KindFloat, nil
	}
	return "", fmt.Errorf("function returned mixed value types")
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// toStarlarkValue converts a parameter value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case engine.Params:
		return toStarlarkValue(map[string]interface{}(val))
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
