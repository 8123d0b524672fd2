package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

// LoadParams reads a CUE or YAML parameter file and resolves it at date.
//
// The document holds a top-level "params" mapping. Any list whose entries
// all look like {from: "YYYY-MM-DD", value: X} is a dated value: it
// resolves to the value with the latest from on or before date, and the key
// is dropped when no entry is active yet.
func (rl *RunLoader) LoadParams(ctx context.Context, path string, date time.Time) (engine.Params, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params: %w", err)
	}

	var doc map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, &ConfigError{Errors: []ValidationError{{File: path, Message: err.Error()}}}
		}
		if err := rl.schemas.ValidateAgainstSchema(ctx, "params", doc); err != nil {
			return nil, &ConfigError{Errors: []ValidationError{{File: path, Message: err.Error()}}}
		}
	case ".cue":
		val := rl.ctx.CompileBytes(content, cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, &ConfigError{Errors: convertCUEErrors(err)}
		}
		if err := rl.schemas.ValidateValue("params", val); err != nil {
			return nil, &ConfigError{Errors: convertCUEErrors(err)}
		}
		if err := val.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode params: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported params file %s: want .cue, .yaml or .yml", path)
	}

	raw, ok := doc["params"].(map[string]interface{})
	if !ok {
		return nil, &ConfigError{Errors: []ValidationError{{File: path, Path: "params", Message: "must be a mapping"}}}
	}

	resolved, err := resolveDated(raw, date)
	if err != nil {
		return nil, &ConfigError{Errors: []ValidationError{{File: path, Path: "params", Message: err.Error()}}}
	}
	return engine.Params(resolved), nil
}

// resolveDated replaces dated lists below m with their active value.
func resolveDated(m map[string]interface{}, date time.Time) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for key, v := range m {
		value, active, err := resolveValue(v, date)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if active {
			out[key] = value
		}
	}
	return out, nil
}

func resolveValue(v interface{}, date time.Time) (interface{}, bool, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		nested, err := resolveDated(val, date)
		return nested, true, err
	case []interface{}:
		entries, ok, err := datedEntries(val)
		if err != nil || !ok {
			return val, true, err
		}
		return activeEntry(entries, date)
	default:
		return v, true, nil
	}
}

type datedEntry struct {
	from  time.Time
	value interface{}
}

// datedEntries reports whether list is a dated list and parses it.
func datedEntries(list []interface{}) ([]datedEntry, bool, error) {
	if len(list) == 0 {
		return nil, false, nil
	}

	entries := make([]datedEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, false, nil
		}
		rawFrom, hasFrom := m["from"]
		value, hasValue := m["value"]
		if !hasFrom || !hasValue {
			return nil, false, nil
		}

		var from time.Time
		switch f := rawFrom.(type) {
		case time.Time:
			from = f
		case string:
			parsed, err := time.Parse(engine.DateLayout, f)
			if err != nil {
				return nil, false, fmt.Errorf("invalid from date %q: %w", f, err)
			}
			from = parsed
		default:
			return nil, false, fmt.Errorf("from must be a date, got %T", rawFrom)
		}
		entries = append(entries, datedEntry{from: from, value: value})
	}
	return entries, true, nil
}

func activeEntry(entries []datedEntry, date time.Time) (interface{}, bool, error) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].from.Before(entries[j].from)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].from.Equal(entries[i-1].from) {
			return nil, false, fmt.Errorf("two entries from %s", entries[i].from.Format(engine.DateLayout))
		}
	}

	var (
		value  interface{}
		active bool
	)
	for _, e := range entries {
		if e.from.After(date) {
			break
		}
		value, active = e.value, true
	}
	if m, ok := value.(map[string]interface{}); ok && active {
		nested, err := resolveDated(m, date)
		return nested, true, err
	}
	return value, active, nil
}
