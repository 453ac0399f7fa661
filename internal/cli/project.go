package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projector"
)

// ProjectOptions holds flags for the project command.
type ProjectOptions struct {
	*RootOptions
	AsOf  string
	Level int  // 0 for every level
	CSV   bool // write versions as CSV instead of the formatted output
}

// SnapshotRow is one active version in CSV output.
type SnapshotRow struct {
	Level      int    `csv:"level"`
	Code       string `csv:"code"`
	Name       string `csv:"name"`
	ParentCode string `csv:"parent_code,omitempty"`
	ValidFrom  string `csv:"valid_from"`
	ValidTo    string `csv:"valid_to,omitempty"`
	UnitID     string `csv:"unit_id"`
}

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project the units active on a date",
		Long: `Replay the ledger up to the as-of date and list every active unit
version together with the children of every parent.

Examples:
  atlas project --as-of 2024-06-01
  atlas project --as-of 2020-06-01 --dimension nor/1b --level 1
  atlas project --as-of 2024-06-01 --csv > units.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&opts.Level, "level", 0, "only this level (default all)")
	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "write active versions as CSV")

	return cmd
}

func runProject(ctx context.Context, opts *ProjectOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	snap, err := project(ctx, opts)
	if err != nil {
		return formatter.Fail(err)
	}

	switch {
	case opts.CSV:
		if err := writeSnapshotCSV(formatter.Writer, snap); err != nil {
			return WrapExitError(ExitCommandError, "failed to write csv", err)
		}
		return nil
	case formatter.JSON():
		return formatter.Success(snap)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s on %s: %d active unit(s)\n", snap.Dimension, snap.AsOf, len(snap.Versions))
	var level ir.Level
	for _, v := range snap.Versions {
		if v.Level != level {
			level = v.Level
			fmt.Fprintf(w, "Level %d\n", level)
		}
		writeVersion(w, "  ", v)
	}
	if len(snap.Constituents) > 0 {
		fmt.Fprintln(w, "Constituents")
		for _, c := range snap.Constituents {
			fmt.Fprintf(w, "  %s: %v\n", c.ParentCode, c.Codes())
		}
	}
	return nil
}

func project(ctx context.Context, opts *ProjectOptions) (*projector.Snapshot, error) {
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return nil, err
	}
	if opts.Level != 0 {
		if _, err := parseLevel(opts.Level); err != nil {
			return nil, err
		}
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	snap, err := a.proj.Project(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if opts.Level != 0 {
		snap = filterLevel(snap, ir.Level(opts.Level))
	}
	return snap, nil
}

// filterLevel keeps the versions of one level and the constituents of its
// units.
func filterLevel(snap *projector.Snapshot, level ir.Level) *projector.Snapshot {
	out := *snap
	out.Versions = []ir.UnitVersion{}
	out.Constituents = []projector.Constituent{}
	for _, v := range snap.Versions {
		if v.Level == level {
			out.Versions = append(out.Versions, v)
		}
	}
	for _, c := range snap.Constituents {
		if c.Level == level {
			out.Constituents = append(out.Constituents, c)
		}
	}
	return &out
}

// writeSnapshotCSV writes one row per active version.
func writeSnapshotCSV(w io.Writer, snap *projector.Snapshot) error {
	codes := make(map[ir.UnitID]string, len(snap.Versions))
	for _, v := range snap.Versions {
		codes[v.UnitID] = v.Code
	}
	rows := make([]SnapshotRow, 0, len(snap.Versions))
	for _, v := range snap.Versions {
		row := SnapshotRow{
			Level:      int(v.Level),
			Code:       v.Code,
			Name:       v.Name,
			ParentCode: codes[v.ParentID],
			ValidFrom:  v.ValidFrom.String(),
			UnitID:     string(v.UnitID),
		}
		if v.ValidTo != nil {
			row.ValidTo = v.ValidTo.String()
		}
		rows = append(rows, row)
	}
	b, err := csvutil.Marshal(rows)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
