package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/taxgraph/taxgraph/pkg/config"
	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/stores"
	"github.com/taxgraph/taxgraph/pkg/table"
	"github.com/taxgraph/taxgraph/pkg/telemetry"
)

// defaultResultTable is the SQLite table results go to when none is named.
const defaultResultTable = "results"

// project is a run configuration together with the registry, overrides and
// parameters it refers to.
type project struct {
	path      string
	run       *config.RunConfig
	date      time.Time
	registry  *engine.Registry
	overrides engine.Overrides
	params    engine.Params
}

// loadProject reads the run configuration at path and every module and
// parameter file it names. Data is loaded separately.
func loadProject(ctx context.Context, path string) (proj *project, err error) {
	op := telemetry.StartOperation(ctx, "load_project", attribute.String("config", path))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	rl := config.NewRunLoader()
	run, err := rl.Load(path)
	if err != nil {
		return nil, err
	}

	date, err := run.PolicyDate()
	if err != nil {
		return nil, err
	}

	ml := config.NewModuleLoader(moduleTimeout, op.Logger.NewComponentLogger("modules").Zerolog())
	registry, err := ml.LoadRegistry(ctx, run.Functions...)
	if err != nil {
		return nil, err
	}

	overrides, err := ml.LoadOverrides(ctx, date, run.Overrides...)
	if err != nil {
		return nil, err
	}

	var params engine.Params
	if run.Params != "" {
		params, err = rl.LoadParams(ctx, run.Params, date)
		if err != nil {
			return nil, err
		}
	}

	op.Logger.WithFields(map[string]interface{}{
		"date":      run.Date,
		"functions": registry.Len(),
		"overrides": len(overrides),
		"params":    len(params),
		"elapsed":   op.Timer.Duration().String(),
	}).Debug("Loaded project")

	return &project{
		path:      path,
		run:       run,
		date:      date,
		registry:  registry,
		overrides: overrides,
		params:    params,
	}, nil
}

// functions resolves the registry at the policy date with the overrides.
func (p *project) functions() (*engine.FunctionSet, error) {
	return p.registry.Resolve(p.date, p.overrides)
}

// targets returns the configured targets unless some are given explicitly.
func (p *project) targets(explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return p.run.Targets
}

// engineOptions returns the configured engine options with the logger set.
func (p *project) engineOptions(logger zerolog.Logger) engine.Options {
	opts := p.run.EngineOptions()
	opts.Logger = logger
	return opts
}

// loadData reads the input table.
func (p *project) loadData(ctx context.Context) (*table.Table, error) {
	src := p.run.Data

	switch src.DataFormat() {
	case "sqlite":
		store, err := openTableStore(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadTable(ctx, src.Table, src.Index)
	default:
		kinds := make(map[string]table.Kind, len(src.Kinds))
		for name, k := range src.Kinds {
			kind, err := table.ParseKind(k)
			if err != nil {
				return nil, fmt.Errorf("data column %s: %w", name, err)
			}
			kinds[name] = kind
		}

		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open data: %w", err)
		}
		defer f.Close()

		t, err := table.ReadCSV(f, table.CSVOptions{Index: src.Index, Kinds: kinds})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src.Path, err)
		}
		return t, nil
	}
}

// writeOutput writes the result table where the run configuration says, or
// as CSV to stdout.
func (p *project) writeOutput(ctx context.Context, t *table.Table, stdout io.Writer) error {
	out := p.run.Output
	if out == nil || out.Path == "-" {
		return table.WriteCSV(stdout, t)
	}

	switch out.OutputFormat() {
	case "sqlite":
		store, err := openTableStore(ctx, out.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		name := out.Table
		if name == "" {
			name = defaultResultTable
		}
		return store.WriteTable(ctx, name, t)
	case "json":
		return writeFile(out.Path, func(w io.Writer) error { return table.WriteJSON(w, t) })
	default:
		return writeFile(out.Path, func(w io.Writer) error { return table.WriteCSV(w, t) })
	}
}

// openTableStore opens a SQLite database for table access only; the run
// history schema is not applied.
func openTableStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// writeFile writes through a temporary file and renames it into place.
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
