package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
)

// HistoryResult is the output of the history command.
type HistoryResult struct {
	Unit     ir.AdministrativeUnit `json:"unit"`
	Versions []ir.UnitVersion      `json:"versions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <code>",
		Short: "Show every version of the unit a code named",
		Long: `Resolve a code on the as-of date, then list every version of that unit
from its creation to its retirement, oldest first.

Examples:
  atlas history v12 --level 1 --as-of 2020-06-01 --dimension nor/1b
  atlas history 1001 --level 2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(commandContext(cmd), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&opts.Level, "level", int(ir.LevelCounty), "unit level (1 county or district, 2 municipality)")
	cmd.Flags().BoolVar(&opts.Nearest, "nearest", false, "fall back to the nearest version in time")

	return cmd
}

func runHistory(ctx context.Context, opts *ResolveOptions, code string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	result, err := history(ctx, opts, code)
	if err != nil {
		return formatter.Fail(err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Unit %s (%s, level %d): %d version(s)\n",
		result.Unit.ID, result.Unit.Label, result.Unit.Level, len(result.Versions))
	for _, v := range result.Versions {
		writeVersion(w, "  ", v)
	}
	return nil
}

func history(ctx context.Context, opts *ResolveOptions, code string) (HistoryResult, error) {
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return HistoryResult{}, err
	}
	level, err := parseLevel(opts.Level)
	if err != nil {
		return HistoryResult{}, err
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return HistoryResult{}, err
	}
	defer a.Close()

	tl, err := a.proj.Timeline(ctx)
	if err != nil {
		return HistoryResult{}, err
	}
	r := a.resolverOver(tl)
	var res ir.Resolution
	if opts.Nearest {
		res, err = r.ResolveNearest(code, asOf, level)
	} else {
		res, err = r.Resolve(code, asOf, level)
	}
	if err != nil {
		return HistoryResult{}, err
	}

	unit, ok := tl.Unit(res.UnitID)
	if !ok {
		return HistoryResult{}, fmt.Errorf("unit %s missing from timeline", res.UnitID)
	}
	return HistoryResult{Unit: unit, Versions: tl.Versions[res.UnitID]}, nil
}
