package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taxgraph/taxgraph/pkg/telemetry"
)

var (
	// Global flags
	logLevel      string
	logFormat     string
	environment   string
	traceExporter string
	otlpEndpoint  string
	moduleTimeout time.Duration
	metricsAddr   string

	// tel is set by the root pre-run hook and shut down by Execute.
	tel *telemetry.Telemetry
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)

	if tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn().Err(shutdownErr).Msg("Failed to shut down telemetry")
		}
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taxgraph",
		Short: "taxgraph - dependency-driven tax and transfer computation",
		Long: `taxgraph computes tax and transfer quantities for a table of persons.

Functions are declared in Starlark modules. Each one names its inputs, so the
engine builds the dependency graph for the requested targets, checks the
input data, and evaluates every node once in topological order.

Features:
  - Run configuration in CUE, validated against a built-in schema
  - Time-versioned functions selected by policy date
  - Group aggregations (sum, mean, max, min, any, all, count)
  - Dated parameters in CUE or YAML
  - CSV, JSON and SQLite input and output
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			t, err := newTelemetry(version)
			if err != nil {
				return err
			}
			tel = t
			cmd.SetContext(t.WithContext(cmd.Context()))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "development", "telemetry preset (development, production)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("TAXGRAPH_OTLP_ENDPOINT"), "OTLP collector endpoint")
	rootCmd.PersistentFlags().DurationVar(&moduleTimeout, "module-timeout", 10*time.Second, "time limit for loading a function module")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newComputeCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newFunctionsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

// newTelemetry builds the telemetry configuration from the preset and flags.
func newTelemetry(version string) (*telemetry.Telemetry, error) {
	var cfg *telemetry.Config
	switch environment {
	case "production":
		cfg = telemetry.ProductionConfig()
	case "development", "":
		cfg = telemetry.DefaultConfig()
	default:
		return nil, fmt.Errorf("unknown environment %q", environment)
	}
	cfg.ServiceVersion = version

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if traceExporter != "" {
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Enabled = traceExporter != "none"
	}
	if metricsAddr != "" {
		cfg.Metrics.ListenAddress = metricsAddr
	}
	if otlpEndpoint != "" {
		cfg.Tracing.Endpoint = otlpEndpoint
	}

	t, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return t, nil
}

// telemetryFrom returns the telemetry of the running command.
func telemetryFrom(cmd *cobra.Command) *telemetry.Telemetry {
	if t := telemetry.FromTelemetryContext(cmd.Context()); t != nil {
		return t
	}
	return tel
}
