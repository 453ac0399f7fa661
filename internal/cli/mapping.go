package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
)

// PublishResult is the output of mapping publish.
type PublishResult struct {
	Dimension     ir.Dimension `json:"dimension"`
	Year          int          `json:"year"`
	Level         ir.Level     `json:"level"`
	ReferenceDate ir.Date      `json:"reference_date"`
	Parents       int          `json:"parents"`
	Published     bool         `json:"published"` // false when the same mapping was already recorded
}

// MappingSummary is one row of mapping list.
type MappingSummary struct {
	Year          int      `json:"year"`
	Level         ir.Level `json:"level"`
	ReferenceDate ir.Date  `json:"reference_date"`
	Parents       int      `json:"parents"`
	Children      int      `json:"children"`
	Source        string   `json:"source,omitempty"`
}

// NewMappingCommand creates the mapping command and its subcommands.
func NewMappingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Publish and list yearly parent-child mappings",
	}

	publishCmd := &cobra.Command{
		Use:   "publish <mapping.json>",
		Short: "Publish a parent-child mapping from a JSON file",
		Long: `Record the published parent-child mapping of a year. The earliest
mapping of a dimension is its base: every unit starts there.

Republishing the same mapping is a no-op; different content for a year and
level that is already published is a MAPPING_CONFLICT.

Example:
  atlas mapping publish ./mappings/nor-1a-2019.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingPublish(commandContext(cmd), rootOpts, args[0], cmd)
		},
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List the published mappings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingList(commandContext(cmd), rootOpts, cmd)
		},
	}

	cmd.AddCommand(publishCmd, listCmd)
	return cmd
}

func runMappingPublish(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to read mapping", err))
	}
	var m ir.ParentChildMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to decode mapping", err))
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	if m.Level == 0 {
		m.Level = ir.LevelCounty
	}
	if m.ReferenceDate.IsZero() && m.Year > 0 {
		m.ReferenceDate = a.tax.ReferenceDate(m.Year)
	}
	published, err := a.ledger.PublishMapping(ctx, m)
	if err != nil {
		return formatter.Fail(err)
	}

	result := PublishResult{
		Dimension:     a.ledger.Dimension(),
		Year:          m.Year,
		Level:         m.Level,
		ReferenceDate: m.ReferenceDate,
		Parents:       len(m.Parents),
		Published:     published,
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	verb := "published"
	if !published {
		verb = "already published"
	}
	return formatter.Success(fmt.Sprintf("%s %d level %d (%s): %s, %d parent(s)",
		result.Dimension, result.Year, result.Level, result.ReferenceDate, verb, result.Parents))
}

func runMappingList(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	a, err := openApp(ctx, opts)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	ms, err := a.ledger.Mappings(ctx)
	if err != nil {
		return formatter.Fail(err)
	}
	rows := make([]MappingSummary, 0, len(ms))
	for _, m := range ms {
		row := MappingSummary{
			Year:          m.Year,
			Level:         m.Level,
			ReferenceDate: m.ReferenceDate,
			Parents:       len(m.Parents),
			Source:        m.Source,
		}
		for _, p := range m.Parents {
			row.Children += len(p.Children)
		}
		rows = append(rows, row)
	}

	if formatter.JSON() {
		return formatter.Success(rows)
	}
	w := formatter.Writer
	if len(rows) == 0 {
		fmt.Fprintln(w, "No mappings published.")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%d  level %d  %s  %d parent(s), %d child(ren)  %s\n",
			r.Year, r.Level, r.ReferenceDate, r.Parents, r.Children, r.Source)
	}
	return nil
}
