package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
)

// ResolveOptions holds flags for the resolve and history commands.
type ResolveOptions struct {
	*RootOptions
	AsOf    string
	Level   int
	Nearest bool
}

// ResolveResult is the output of the resolve command.
type ResolveResult struct {
	Dimension  ir.Dimension  `json:"dimension"`
	Code       string        `json:"code"`
	Level      ir.Level      `json:"level"`
	AsOf       ir.Date       `json:"as_of"`
	Resolution ir.Resolution `json:"resolution"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <code>",
		Short: "Resolve a code to the unit it named on a date",
		Long: `Resolve a unit code at a level to the stable unit that carried it on
the as-of date.

With --nearest, a code that was not valid on the date resolves to the
closest version in time, reporting its direction and hop count.

Exit codes:
  0 - The code resolved
  1 - The code is unresolved or ambiguous
  2 - Command error (bad input, database not found, etc.)

Examples:
  atlas resolve 12 --level 1 --as-of 2019-06-01 --dimension nor/1b
  atlas resolve 1201 --level 2 --as-of 2024-06-01 --nearest --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(commandContext(cmd), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&opts.Level, "level", int(ir.LevelCounty), "unit level (1 county or district, 2 municipality)")
	cmd.Flags().BoolVar(&opts.Nearest, "nearest", false, "fall back to the nearest version in time")

	return cmd
}

func runResolve(ctx context.Context, opts *ResolveOptions, code string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	res, err := opts.resolve(ctx, code)
	if err != nil {
		return formatter.Fail(err)
	}

	if formatter.JSON() {
		return formatter.Success(res)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%s (level %d) on %s\n", res.Code, res.Level, res.AsOf)
	writeVersion(w, "  ", res.Resolution.Version)
	fmt.Fprintf(w, "  unit: %s\n", res.Resolution.UnitID)
	if res.Resolution.Direction != ir.DirectionExact {
		fmt.Fprintf(w, "  nearest: %s, %d hop(s)\n", res.Resolution.Direction, res.Resolution.Hops)
	}
	return nil
}

// resolve opens the ledger and resolves code.
func (o *ResolveOptions) resolve(ctx context.Context, code string) (ResolveResult, error) {
	asOf, err := parseAsOf(o.AsOf)
	if err != nil {
		return ResolveResult{}, err
	}
	level, err := parseLevel(o.Level)
	if err != nil {
		return ResolveResult{}, err
	}

	a, err := openApp(ctx, o.RootOptions)
	if err != nil {
		return ResolveResult{}, err
	}
	defer a.Close()

	r, err := a.resolver(ctx)
	if err != nil {
		return ResolveResult{}, err
	}
	var res ir.Resolution
	if o.Nearest {
		res, err = r.ResolveNearest(code, asOf, level)
	} else {
		res, err = r.Resolve(code, asOf, level)
	}
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{
		Dimension:  r.Dimension(),
		Code:       code,
		Level:      level,
		AsOf:       asOf,
		Resolution: res,
	}, nil
}

// writeVersion prints one version as "code  name  [from, to)".
func writeVersion(w io.Writer, indent string, v ir.UnitVersion) {
	to := "open)"
	if v.ValidTo != nil {
		to = v.ValidTo.String() + ")"
	}
	fmt.Fprintf(w, "%s%-6s %-32s [%s, %s\n", indent, v.Code, v.Name, v.ValidFrom, to)
}
