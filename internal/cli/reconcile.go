package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Year  int
	Level int
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check the projection against a published mapping",
		Long: `Project the dimension at the reference date of a published mapping
and report codes that are missing, unexpected or under another parent.
Name differences are reported but do not fail the check.

Exit codes:
  0 - The projection matches the mapping
  1 - The projection disagrees with the mapping
  2 - Command error (no mapping for the year, database not found, etc.)

Example:
  atlas reconcile --year 2024`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Year, "year", 0, "mapping year (required)")
	cmd.Flags().IntVar(&opts.Level, "level", int(ir.LevelCounty), "parent level of the mapping")
	_ = cmd.MarkFlagRequired("year")

	return cmd
}

func runReconcile(ctx context.Context, opts *ReconcileOptions, cmd *cobra.Command) error {
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

	m, ok, err := a.ledger.Mapping(ctx, opts.Year, level)
	if err != nil {
		return formatter.Fail(err)
	}
	if !ok {
		return formatter.Fail(ir.NewValidationError("year", fmt.Sprint(opts.Year),
			fmt.Sprintf("no level %d mapping published for %s", level, a.ledger.Dimension())))
	}
	rec, err := a.proj.Reconcile(ctx, m)
	if err != nil {
		return formatter.Fail(err)
	}

	if !formatter.JSON() {
		w := formatter.Writer
		fmt.Fprintf(w, "%s %d on %s\n", rec.Dimension, rec.Year, rec.AsOf)
		for _, section := range []struct {
			name  string
			count int
		}{
			{"missing", len(rec.Missing)},
			{"unexpected", len(rec.Unexpected)},
			{"reparented", len(rec.Reparented)},
			{"renamed", len(rec.Renamed)},
		} {
			fmt.Fprintf(w, "  %-10s %d\n", section.name, section.count)
		}
		if formatter.Verbose {
			for _, d := range rec.Missing {
				fmt.Fprintf(w, "  missing: %v\n", d)
			}
			for _, d := range rec.Unexpected {
				fmt.Fprintf(w, "  unexpected: %v\n", d)
			}
			for _, d := range rec.Reparented {
				fmt.Fprintf(w, "  reparented: %v\n", d)
			}
		}
	}
	if !rec.Consistent() {
		return formatter.Failure(rec, CodeInconsistent,
			fmt.Sprintf("projection disagrees with the %d mapping", rec.Year))
	}
	if formatter.JSON() {
		return formatter.Success(rec)
	}
	fmt.Fprintln(formatter.Writer, "✓ Consistent")
	return nil
}
