package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Every schema is a
// closed definition, so unknown fields are rejected.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	for name, s := range builtinSchemas {
		if err := sr.RegisterSchema(name, s.definition, s.source); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateValue unifies val with the named schema. val must come from the
// registry's CUE context.
func (sr *SchemaRegistry) ValidateValue(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// ValidateAgainstSchema encodes a Go value and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := sr.ValidateValue(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateRun validates a run configuration against the run schema.
func (sr *SchemaRegistry) ValidateRun(ctx context.Context, run *RunConfig) error {
	return sr.ValidateAgainstSchema(ctx, "run", run)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type builtinSchema struct {
	definition string
	source     string
}

var builtinSchemas = map[string]builtinSchema{
	"run":    {definition: "#Run", source: runSchema},
	"params": {definition: "#ParamsFile", source: paramsSchema},
}

const runSchema = `
#Date: =~"^[0-9]{4}-[0-9]{2}-[0-9]{2}$"

#Run: {
	// date selects the active version of every function
	date: #Date

	targets: [string, ...string]

	data: {
		path:    string
		format?: "csv" | "sqlite"
		table?:  string
		index?:  string
		kinds?: {[string]: "float" | "int" | "bool" | "string"}
	}

	// Starlark modules
	functions: [string, ...string]
	overrides?: [...string]

	columns_overriding_functions?: [...string]

	params?:  string
	history?: string

	output?: {
		path:    string
		format?: "csv" | "json" | "sqlite"
		table?:  string
	}

	options?: {
		debug?:                       bool
		check_minimal_specification?: "ignore" | "warn" | "raise"
		rounding?:                    bool
	}
}
`

const paramsSchema = `
#ParamsFile: {
	params: {...}
	...
}
`
