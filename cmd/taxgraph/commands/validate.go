package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

// validation is the YAML form of a successful validation.
type validation struct {
	Config  string                   `yaml:"config"`
	Date    string                   `yaml:"date"`
	Targets []string                 `yaml:"targets"`
	Nodes   int                      `yaml:"nodes"`
	Levels  int                      `yaml:"levels"`
	Report  *engine.ValidationReport `yaml:"inputs"`
	Notes   []string                 `yaml:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		targets []string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "validate [run.cue]",
		Short: "Validate a run configuration without computing",
		Long: `Validate checks everything compute checks before evaluating a node:

  - CUE syntax and conformance to the run schema
  - Function modules, overrides and parameter files
  - Exactly one active version of every needed function at the policy date
  - An acyclic dependency graph for the targets
  - Every leaf column and parameter present in the input data
  - No data column shadowed by a function it was not declared to override`,
		Example: `  # Validate run.cue in the current directory
  taxgraph validate

  # Validate for different targets and print the report as YAML
  taxgraph validate ./example/run.cue --target kindergeld_m --format yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "run.cue"
			if len(args) > 0 {
				path = args[0]
			}
			ctx := cmd.Context()
			t := telemetryFrom(cmd)

			log.Info().Str("config", path).Msg("Validating run configuration")

			proj, err := loadProject(ctx, path)
			if err != nil {
				return err
			}

			functions, err := proj.functions()
			if err != nil {
				return err
			}
			data, err := proj.loadData(ctx)
			if err != nil {
				return err
			}

			prepared, err := engine.Prepare(data, functions, proj.targets(targets), proj.params,
				proj.engineOptions(t.Logger.Zerolog()))
			if err != nil {
				return err
			}

			notes := prepared.Warnings
			for _, name := range proj.registry.Overlapping() {
				notes = append(notes, fmt.Sprintf("function %s has versions with overlapping periods", name))
			}

			v := validation{
				Config:  path,
				Date:    proj.run.Date,
				Targets: prepared.Graph.Targets,
				Nodes:   len(prepared.Graph.Nodes),
				Levels:  prepared.Graph.Depth(),
				Report:  prepared.Report,
				Notes:   notes,
			}

			switch format {
			case "yaml":
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(v)
			case "text":
				printValidation(cmd.OutOrStdout(), v)
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "targets to validate instead of the configured ones")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, yaml)")

	return cmd
}

func printValidation(w io.Writer, v validation) {
	fmt.Fprintf(w, "✓ Configuration %s is valid\n", v.Config)
	fmt.Fprintf(w, "✓ %d nodes in %d levels for %d targets at %s\n", v.Nodes, v.Levels, len(v.Targets), v.Date)
	fmt.Fprintf(w, "✓ %d input columns present\n", len(v.Report.Present))
	for _, col := range v.Report.Missing {
		fmt.Fprintf(w, "✗ missing column: %s\n", col)
	}
	for _, key := range v.Report.MissingParams {
		fmt.Fprintf(w, "✗ missing parameter: %s\n", key)
	}
	for _, col := range v.Report.Unused {
		fmt.Fprintf(w, "  unused column: %s\n", col)
	}
	for _, warning := range v.Notes {
		fmt.Fprintf(w, "! %s\n", warning)
	}
}
