package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/stores"
	"github.com/taxgraph/taxgraph/pkg/telemetry"
)

// computeFlags are the per-invocation settings of compute.
type computeFlags struct {
	targets []string
	debug   bool
	history string
	dotPath string
}

func newComputeCommand() *cobra.Command {
	var (
		flags computeFlags
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "compute [run.cue]",
		Short: "Compute the targets of a run configuration",
		Long: `Compute loads the run configuration, its function modules, overrides,
parameters and input data, then evaluates the targets at the policy date.

Results are written to the configured output, or as CSV to stdout. In debug
mode failed nodes do not abort the run: the result holds every column that
could be computed and the failures are listed on stderr.

With --watch the run is repeated whenever one of its files changes, and
Prometheus metrics are served on --metrics-addr.`,
		Example: `  # Compute the targets of run.cue
  taxgraph compute

  # Compute selected targets in debug mode and keep the graph
  taxgraph compute ./example/run.cue --target kindergeld_m_hh --debug --dot graph.dot

  # Record run history and recompute on change
  taxgraph compute --history runs.db --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "run.cue"
			if len(args) > 0 {
				path = args[0]
			}
			t := telemetryFrom(cmd)

			log.Info().
				Str("config", path).
				Strs("targets", flags.targets).
				Bool("debug", flags.debug).
				Bool("watch", watch).
				Msg("Computing")

			if watch {
				return watchProject(cmd.Context(), t, path, flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			return runCompute(cmd.Context(), t, path, flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringSliceVarP(&flags.targets, "target", "t", nil, "targets to compute instead of the configured ones")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "keep going after node failures and return intermediate columns")
	cmd.Flags().StringVar(&flags.history, "history", "", "SQLite database recording run history")
	cmd.Flags().StringVar(&flags.dotPath, "dot", "", "write the dependency graph in DOT format to this file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "recompute when the run configuration or its inputs change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "metrics listen address in watch mode")

	return cmd
}

// runCompute performs one computation of the run configuration at path.
func runCompute(
	ctx context.Context,
	t *telemetry.Telemetry,
	path string,
	flags computeFlags,
	stdout, stderr io.Writer,
) (err error) {
	runID := uuid.New().String()
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, "compute")
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	logger := t.Logger.WithRunID(runID)
	proj, err := loadProject(ctx, path)
	if err != nil {
		return err
	}
	targets := proj.targets(flags.targets)

	historyPath := flags.history
	if historyPath == "" {
		historyPath = proj.run.History
	}
	var recorder *runRecorder
	if historyPath != "" {
		recorder, err = startRun(ctx, historyPath, &stores.Run{
			ID:         runID,
			ConfigPath: path,
			PolicyDate: proj.run.Date,
			Targets:    targets,
		})
		if err != nil {
			return err
		}
		defer recorder.close()
	}

	start := time.Now()
	observer := t.NewObserver(runID)
	result, err := evaluate(ctx, proj, targets, flags.debug, observer, logger)
	if recorder != nil {
		recorder.finish(ctx, result, err, time.Since(start))
	}
	if err != nil {
		return err
	}
	observer.Warnings(result.Warnings)

	if err := proj.writeOutput(ctx, result.Table, stdout); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if flags.dotPath != "" {
		if err := os.WriteFile(flags.dotPath, []byte(result.Graph.ToDOT()), 0o644); err != nil {
			return fmt.Errorf("failed to write graph: %w", err)
		}
	}

	for _, name := range result.Failed() {
		fmt.Fprintf(stderr, "✗ %s\n", result.Errors[name])
	}

	logger.WithFields(map[string]interface{}{
		"status":   string(result.RunStatus),
		"rows":     result.Table.Len(),
		"columns":  result.Table.Width(),
		"duration": result.Duration.String(),
	}).Info("Computation finished")
	return nil
}

// evaluate loads the data and runs the engine.
func evaluate(
	ctx context.Context,
	proj *project,
	targets []string,
	debug bool,
	observer engine.Observer,
	logger *telemetry.Logger,
) (*engine.Result, error) {
	functions, err := proj.functions()
	if err != nil {
		return nil, err
	}

	data, err := proj.loadData(ctx)
	if err != nil {
		return nil, err
	}

	opts := proj.engineOptions(logger.Zerolog())
	opts.Observer = observer
	if debug {
		opts.Debug = true
	}

	return engine.Compute(ctx, data, functions, targets, proj.params, opts)
}

// runRecorder writes one run and its outcome to the history database.
type runRecorder struct {
	store *stores.SQLiteStore
	run   *stores.Run
}

func startRun(ctx context.Context, path string, run *stores.Run) (*runRecorder, error) {
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if err := store.CreateRun(ctx, run); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &runRecorder{store: store, run: run}, nil
}

// finish records the outcome. Failures to record are only logged.
func (r *runRecorder) finish(ctx context.Context, result *engine.Result, computeErr error, d time.Duration) {
	ctx = context.WithoutCancel(ctx)

	outcome := stores.RunOutcome{Status: engine.RunStatusFailed, Duration: d, Err: computeErr}
	if result != nil {
		outcome.Status = result.RunStatus
		outcome.Rows = result.Table.Len()
		outcome.Warnings = result.Warnings
		outcome.Duration = result.Duration
		outcome.Err = result.ErrorsJoined()
	}

	if err := r.store.CompleteRun(ctx, r.run.ID, outcome); err != nil {
		log.Warn().Err(err).Str("run_id", r.run.ID).Msg("Failed to record run outcome")
		return
	}
	if result != nil && len(result.Errors) > 0 {
		if err := r.store.AppendNodeErrors(ctx, r.run.ID, result.Errors); err != nil {
			log.Warn().Err(err).Str("run_id", r.run.ID).Msg("Failed to record node errors")
		}
	}
}

func (r *runRecorder) close() {
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close run history")
	}
}
