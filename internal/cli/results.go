package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/results"
	"github.com/roach88/atlas/internal/source"
)

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	*RootOptions
	Year  int
	Level int

	// Adapter overrides the Statistics Norway adapter (for testing).
	// If nil, the adapter is built from the configuration.
	Adapter *source.Adapter
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "results [code...]",
		Short: "Fetch parliamentary election results and attribute them to units",
		Long: `Fetch the parliamentary election results of --year from the Statistics
Norway statistics bank, one record per unit at --level. Each record names
the unit that carried the code on election day and the units it continues
as today; district records also list their municipalities.

With no codes, every unit active at the level on election day is fetched.
Records are written under results/ in the configured object store.

Exit codes:
  0 - Every result fetched and attributed
  1 - A code is unresolved or ambiguous on election day
  2 - Command error (not an election year, upstream unavailable, etc.)

Examples:
  atlas results --year 2021 --dimension nor/1b
  atlas results --year 2021 --level 2 0301 4601 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(commandContext(cmd), opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Year, "year", 0, "election year (required)")
	cmd.Flags().IntVar(&opts.Level, "level", 1, "unit level (1 district, 2 municipality)")
	_ = cmd.MarkFlagRequired("year")

	return cmd
}

func runResults(ctx context.Context, opts *ResultsOptions, codes []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	level, err := parseLevel(opts.Level)
	if err != nil {
		return formatter.Fail(err)
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	objects, err := a.objects(ctx)
	if err != nil {
		return formatter.Fail(err)
	}
	adapter := opts.Adapter
	if adapter == nil {
		adapter = a.ssbAdapter()
	}

	report, err := results.New(adapter, a.proj, results.WithObjectStore(objects)).Run(ctx, opts.Year, level, codes...)
	if err != nil {
		return formatter.Fail(err)
	}
	if formatter.JSON() {
		return formatter.Success(report)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s %d election on %s, level %d\n", report.Dimension, report.Year, report.ElectionDay, report.Level)
	for _, rec := range report.Records {
		fmt.Fprintf(w, "  %-6s %-28s %8d valid  %5.1f%% turnout  unit %s\n",
			rec.UnitCode, rec.UnitName, rec.ValidVotesCast, rec.Turnout*100, shortID(string(rec.Attribution.UnitID)))
		if len(rec.Attribution.Successors) != 1 || rec.Attribution.Successors[0] != rec.Attribution.UnitID {
			fmt.Fprintf(w, "         now %d unit(s) on %s\n", len(rec.Attribution.Successors), rec.Attribution.SuccessorsOn)
		}
	}
	fmt.Fprintf(w, "%d result(s), %d written\n", len(report.Records), len(report.Written))
	return nil
}
