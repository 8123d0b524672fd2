package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taxgraph/taxgraph/pkg/config"
	"github.com/taxgraph/taxgraph/pkg/stores"
)

// scaffold is the example project written by init, keyed by relative path.
var scaffold = []struct {
	path    string
	content string
}{
	{"run.cue", scaffoldRun},
	{"persons.csv", scaffoldPersons},
	{"params.cue", scaffoldParams},
	{filepath.Join("functions", "kindergeld.star"), scaffoldKindergeld},
	{filepath.Join("functions", "lohnsteuer.star"), scaffoldLohnsteuer},
}

const scaffoldRun = `// taxgraph run configuration
run: {
	date: "2024-07-01"
	targets: ["kindergeld_m_hh", "kinder_hh", "lohnsteuer_m_hh"]

	data: {
		path:  "persons.csv"
		index: "p_id"
		kinds: {bruttolohn_m: "float"}
	}

	functions: [
		"functions/kindergeld.star",
		"functions/lohnsteuer.star",
	]
	params:  "params.cue"
	history: "runs.db"

	output: path: "out/result.csv"

	options: {
		check_minimal_specification: "warn"
		rounding:                    true
	}
}
`

const scaffoldPersons = `p_id,hh_id,alter,bruttolohn_m
1,1,42,3500
2,1,40,1200.5
3,1,10,0
4,1,7,0
5,2,67,0
6,3,35,4800
7,3,2,0
`

const scaffoldParams = `params: {
	kindergeld: {
		altersgrenze: 18
		satz: [
			{from: "2021-01-01", value: 219.0},
			{from: "2023-01-01", value: 250.0},
		]
	}
	lohnsteuer: {
		freibetrag_m: [
			{from: "2022-01-01", value: 862.0},
			{from: "2024-01-01", value: 964.0},
		]
		satz: 0.2
	}
}
`

const scaffoldKindergeld = `def _anspruch(alter, altersgrenze):
    return [a < altersgrenze for a in alter]

def _betrag(anspruch, satz):
    return [satz if x else 0.0 for x in anspruch]

function("kindergeld_anspruch", ["alter"], _anspruch, params = ["kindergeld.altersgrenze"])
function("kindergeld_m", ["kindergeld_anspruch"], _betrag, params = ["kindergeld.satz"])

aggregate("kindergeld_m_hh", "kindergeld_m", "hh_id")
aggregate("kinder_hh", "kindergeld_anspruch", "hh_id", kind = "count")
`

const scaffoldLohnsteuer = `def _zve(lohn, freibetrag):
    return [max(x - freibetrag, 0.0) for x in lohn]

def _steuer(zve, satz):
    return [x * satz for x in zve]

function("zu_versteuern_m", ["bruttolohn_m"], _zve, params = ["lohnsteuer.freibetrag_m"])

# Until 2022 the tax was rounded down to whole euros, since then to cents.
function("lohnsteuer_m", ["zu_versteuern_m"], _steuer,
         params = ["lohnsteuer.satz"],
         end = "2022-12-31",
         rounding = {"base": 1, "direction": "down"})
function("lohnsteuer_m", ["zu_versteuern_m"], _steuer,
         params = ["lohnsteuer.satz"],
         start = "2023-01-01",
         rounding = {"base": 0.01, "direction": "down"})

aggregate("lohnsteuer_m_hh", "lohnsteuer_m", "hh_id")
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create an example project",
		Long: `Init writes an example project: a run configuration, input data, dated
parameters and two function modules computing child benefit and a simple
wage tax per household. It then validates the configuration and creates the
run history database.

Existing files are kept unless --force is given.`,
		Example: `  # Create an example project in ./example
  taxgraph init example

  # Then compute it
  taxgraph compute example/run.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing project")

			for _, f := range scaffold {
				path := filepath.Join(dir, f.path)
				if _, err := os.Stat(path); err == nil && !force {
					fmt.Fprintf(out, "✓ Kept existing %s\n", path)
					continue
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("failed to create directory for %s: %w", path, err)
				}
				if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Fprintf(out, "✓ Created %s\n", path)
			}

			rl := config.NewRunLoader()
			runPath := filepath.Join(dir, "run.cue")
			run, err := rl.Load(runPath)
			if err != nil {
				return err
			}
			if err := rl.Schemas().ValidateRun(ctx, run); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Validated %s\n", runPath)

			if run.History != "" {
				store, err := stores.Open(ctx, run.History)
				if err != nil {
					return fmt.Errorf("failed to initialize run history: %w", err)
				}
				if err := store.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Initialized run history: %s\n", run.History)
			}

			fmt.Fprintf(out, "\nRun 'taxgraph compute %s' to compute the example.\n", runPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
