package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ingest"
	"github.com/roach88/atlas/internal/source"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	FromYear int
	ToYear   int

	// Adapter overrides the Statistics Norway adapter (for testing).
	// If nil, the adapter is built from the configuration.
	Adapter *source.Adapter

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs ingest.RunIDGenerator
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch mappings and changes from Statistics Norway into the ledger",
		Long: `Publish the mapping of --from as the base, then for every later year
up to --to fetch the county and municipality changes, append them as change
events, publish that year's mapping and reconcile the projection against it.

Raw documents are written under raw/ and projected snapshots under
dimensions/ in the configured object store. Re-running a range is
idempotent.

Exit codes:
  0 - Every year ingested and reconciled
  1 - A year failed to reconcile or an event broke the ledger order
  2 - Command error (upstream unavailable, database not found, etc.)

Examples:
  atlas ingest --from 2019 --to 2024
  atlas ingest --from 2019 --to 2024 --dimension nor/1b --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.FromYear, "from", 0, "base year (required)")
	cmd.Flags().IntVar(&opts.ToYear, "to", 0, "last year (default --from)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runIngest(ctx context.Context, opts *IngestOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	to := opts.ToYear
	if to == 0 {
		to = opts.FromYear
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
	popts := []ingest.Option{
		ingest.WithObjectStore(objects),
		ingest.WithProjector(a.proj),
	}
	if opts.RunIDs != nil {
		popts = append(popts, ingest.WithRunIDGenerator(opts.RunIDs))
	}

	report, err := ingest.New(adapter, a.ledger, popts...).Run(ctx, opts.FromYear, to)
	if err != nil {
		return formatter.Fail(err)
	}

	if !report.Consistent() {
		if !formatter.JSON() {
			outputIngestText(formatter, report)
		}
		return formatter.Failure(report, CodeInconsistent,
			"projection does not match a published mapping")
	}
	if formatter.JSON() {
		return formatter.Success(report)
	}
	outputIngestText(formatter, report)
	return nil
}

func outputIngestText(formatter *OutputFormatter, report *ingest.Report) {
	w := formatter.Writer
	fmt.Fprintf(w, "Run %s: %s %d-%d\n", report.RunID, report.Dimension, report.FromYear, report.ToYear)
	for _, y := range report.Years {
		status := "✓"
		for _, rec := range y.Reconciliations {
			if !rec.Consistent() {
				status = "✗"
			}
		}
		if y.From.IsZero() {
			fmt.Fprintf(w, "%s %d base mapping %s, %d published\n", status, y.Year, y.To, y.Published)
			continue
		}
		fmt.Fprintf(w, "%s %d %s..%s: %d record(s), %d event(s), %d appended, %d published\n",
			status, y.Year, y.From, y.To, y.Records, y.Events, y.Appended, y.Published)
		if formatter.Verbose {
			for _, rec := range y.Reconciliations {
				fmt.Fprintf(w, "    missing %d, unexpected %d, reparented %d, renamed %d\n",
					len(rec.Missing), len(rec.Unexpected), len(rec.Reparented), len(rec.Renamed))
			}
		}
	}
	fmt.Fprintf(w, "%d event(s) appended\n", report.Appended())
}
