package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		targets []string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "graph [run.cue]",
		Short: "Show the dependency graph of the targets",
		Long: `Graph builds the dependency graph the targets need at the policy date and
prints it level by level, as YAML, or in Graphviz DOT format.

Missing inputs do not prevent the graph from being shown; they appear as
leaves.`,
		Example: `  # Print the levels of the configured targets
  taxgraph graph

  # Render the graph of one target with Graphviz
  taxgraph graph --target kindergeld_m_hh --format dot | dot -Tsvg > graph.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "run.cue"
			if len(args) > 0 {
				path = args[0]
			}
			ctx := cmd.Context()
			logger := telemetryFrom(cmd).Logger.Zerolog()

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

			opts := proj.engineOptions(logger)
			opts.Debug = true
			prepared, err := engine.Prepare(data, functions, proj.targets(targets), proj.params, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				printLevels(out, prepared.Graph)
				return nil
			case "yaml":
				return yaml.NewEncoder(out).Encode(prepared.Graph)
			case "dot":
				_, err := io.WriteString(out, prepared.Graph.ToDOT())
				return err
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "targets to show instead of the configured ones")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, yaml, dot)")

	return cmd
}

func printLevels(w io.Writer, g *engine.Graph) {
	fmt.Fprintf(w, "Targets: %s\n", strings.Join(g.Targets, ", "))
	for i, level := range g.Levels {
		fmt.Fprintf(w, "Level %d:\n", i)
		for _, name := range level {
			node := g.Nodes[name]
			if len(node.Dependencies) == 0 {
				fmt.Fprintf(w, "  %s (%s)\n", name, node.Kind())
				continue
			}
			fmt.Fprintf(w, "  %s (%s) <- %s\n", name, node.Kind(), strings.Join(node.Dependencies, ", "))
		}
	}
}
