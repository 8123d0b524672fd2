package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

// functionVersion describes one registered version of a name.
type functionVersion struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Inputs []string `yaml:"inputs,omitempty"`
	Params []string `yaml:"params,omitempty"`
	Period string   `yaml:"period"`
	Active bool     `yaml:"active"`
}

func newFunctionsCommand() *cobra.Command {
	var (
		date   string
		all    bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "functions [run.cue]",
		Short: "List the registered functions",
		Long: `Functions lists every name in the function modules of a run configuration
with the version active at the policy date. Names without an active version
are marked inactive. Use --all to list every version.`,
		Example: `  # List functions active at the configured date
  taxgraph functions

  # Show every version as of another date
  taxgraph functions --date 2008-01-01 --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "run.cue"
			if len(args) > 0 {
				path = args[0]
			}

			proj, err := loadProject(cmd.Context(), path)
			if err != nil {
				return err
			}

			at := proj.date
			if date != "" {
				at, err = time.Parse(engine.DateLayout, date)
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", date, err)
				}
			}

			versions := listVersions(proj.registry, at, all)
			switch format {
			case "text":
				return printVersions(cmd.OutOrStdout(), versions)
			case "yaml":
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(versions)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "policy date (YYYY-MM-DD) instead of the configured one")
	cmd.Flags().BoolVar(&all, "all", false, "list every version, not only the active one")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, yaml)")

	return cmd
}

// listVersions returns, per name, the active version, or every version when
// all is set. A name with no active version is listed by its first version.
func listVersions(reg *engine.Registry, date time.Time, all bool) []functionVersion {
	var out []functionVersion
	for _, name := range reg.Names() {
		versions := reg.Versions(name)
		listed := false
		for _, node := range versions {
			active := node.Period.Contains(date)
			if all || active {
				out = append(out, describeVersion(node, active))
				listed = true
			}
		}
		if !listed && len(versions) > 0 {
			out = append(out, describeVersion(versions[0], false))
		}
	}
	return out
}

func describeVersion(node *engine.Node, active bool) functionVersion {
	return functionVersion{
		Name:   node.Name,
		Kind:   string(node.Kind),
		Inputs: node.Dependencies(),
		Params: node.Params,
		Period: node.Period.String(),
		Active: active,
	}
}

func printVersions(w io.Writer, versions []functionVersion) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tINPUTS\tPERIOD\tSTATE")
	for _, v := range versions {
		state := "active"
		if !v.Active {
			state = "inactive"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Kind, strings.Join(v.Inputs, ","), v.Period, state)
	}
	return tw.Flush()
}
