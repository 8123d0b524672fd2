package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taxgraph/taxgraph/pkg/stores"
)

// runHistoryPath is the --db flag shared by the runs subcommands.
var runHistoryPath string

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
		Long: `Inspect the runs recorded by compute --history.

Every run records its configuration, policy date, targets, final status, row
count, warnings, and for debug runs the error of each failed node.`,
	}

	cmd.PersistentFlags().StringVar(&runHistoryPath, "db", "runs.db", "run history database")

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  # List the last 20 runs
  taxgraph runs list --db runs.db

  # Page through older runs
  taxgraph runs list --limit 20 --offset 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := stores.Open(ctx, runHistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tDATE\tSTATUS\tROWS\tDURATION\tTARGETS")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					run.ID,
					run.StartedAt.Local().Format(time.DateTime),
					run.PolicyDate,
					run.Status,
					run.Rows,
					run.Duration.Round(time.Millisecond),
					strings.Join(run.Targets, ","),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

// runDetail is the YAML form of one run.
type runDetail struct {
	ID          string            `yaml:"id"`
	Config      string            `yaml:"config"`
	PolicyDate  string            `yaml:"policy_date"`
	Targets     []string          `yaml:"targets"`
	Status      string            `yaml:"status"`
	Rows        int               `yaml:"rows"`
	StartedAt   time.Time         `yaml:"started_at"`
	CompletedAt *time.Time        `yaml:"completed_at,omitempty"`
	Duration    string            `yaml:"duration"`
	Error       *string           `yaml:"error,omitempty"`
	ErrorCode   *string           `yaml:"error_code,omitempty"`
	Warnings    []string          `yaml:"warnings,omitempty"`
	NodeErrors  []nodeErrorDetail `yaml:"node_errors,omitempty"`
}

type nodeErrorDetail struct {
	Node    string   `yaml:"node"`
	Status  string   `yaml:"status"`
	Code    string   `yaml:"code,omitempty"`
	Message string   `yaml:"message"`
	Causes  []string `yaml:"causes,omitempty"`
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its node errors",
		Example: `  taxgraph runs show 0d9c4f0e-5a51-4c1b-9d0e-2f1f3c1a7b52 --db runs.db`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := stores.Open(ctx, runHistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			nodeErrors, err := store.ListNodeErrors(ctx, run.ID)
			if err != nil {
				return err
			}

			return writeRunDetail(cmd.OutOrStdout(), run, nodeErrors)
		},
	}

	return cmd
}

func writeRunDetail(w io.Writer, run *stores.Run, nodeErrors []*stores.NodeErrorRecord) error {
	detail := runDetail{
		ID:          run.ID,
		Config:      run.ConfigPath,
		PolicyDate:  run.PolicyDate,
		Targets:     run.Targets,
		Status:      string(run.Status),
		Rows:        run.Rows,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Duration:    run.Duration.String(),
		Error:       run.Error,
		ErrorCode:   run.ErrorCode,
		Warnings:    run.Warnings,
	}
	for _, ne := range nodeErrors {
		d := nodeErrorDetail{
			Node:    ne.Node,
			Status:  string(ne.Status),
			Message: ne.Message,
			Causes:  ne.Causes,
		}
		if ne.Code != nil {
			d.Code = *ne.Code
		}
		detail.NodeErrors = append(detail.NodeErrors, d)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(detail); err != nil {
		return err
	}
	return enc.Close()
}

func newRunsDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete runs and their node errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := stores.Open(ctx, runHistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			for _, id := range args {
				if err := store.DeleteRun(ctx, id); err != nil {
					return fmt.Errorf("run %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", id)
			}
			return nil
		},
	}

	return cmd
}
