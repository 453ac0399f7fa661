package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/source"
)

// LedgerOptions holds flags for the ledger subcommands.
type LedgerOptions struct {
	*RootOptions
	From string
	To   string
	CSV  string
}

// AppendResult is the output of ledger append and ledger import.
type AppendResult struct {
	Dimension ir.Dimension `json:"dimension"`
	Events    int          `json:"events"`
	Appended  int          `json:"appended"`
	Skipped   int          `json:"skipped"` // already in the ledger
}

// EventsResult is the output of ledger events.
type EventsResult struct {
	Dimension ir.Dimension     `json:"dimension"`
	Events    []ir.ChangeEvent `json:"events"`
}

// NewLedgerCommand creates the ledger command and its subcommands.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Append to and inspect the change event ledger",
	}

	appendCmd := &cobra.Command{
		Use:   "append <events.json>",
		Short: "Append change events from a JSON file",
		Long: `Append one change event, or an array of them, from a JSON file.

Events are validated, given their content-addressed id and appended in file
order. Events already in the ledger are skipped.

Exit codes:
  0 - Every event was appended or already present
  1 - An event broke the ledger order or failed validation of its codes
  2 - Command error (unreadable file, database not found, etc.)

Example:
  atlas ledger append ./events/2024-county-merge.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerAppend(commandContext(cmd), opts, args[0], cmd)
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "List change events in replay order",
		Long: `List the change events of the dimension in replay order, optionally
limited to effective dates in [--from, --to].

Example:
  atlas ledger events --from 2020-01-01 --to 2020-12-31 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerEvents(commandContext(cmd), opts, cmd)
		},
	}
	eventsCmd.Flags().StringVar(&opts.From, "from", "", "first effective date YYYY-MM-DD")
	eventsCmd.Flags().StringVar(&opts.To, "to", "", "last effective date YYYY-MM-DD")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Group change records from CSV into events and append them",
		Long: `Read raw change records from a CSV file with the columns

  level,old_code,old_name,new_code,new_name,change_occurred

group them into change events per level, and append them in replay order:
by date, with level 1 before level 2 on the same day.

Example:
  atlas ledger import --csv ./changes-2024.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerImport(commandContext(cmd), opts, cmd)
		},
	}
	importCmd.Flags().StringVar(&opts.CSV, "csv", "", "change records CSV (required)")
	_ = importCmd.MarkFlagRequired("csv")

	cmd.AddCommand(appendCmd, eventsCmd, importCmd)
	return cmd
}

func runLedgerAppend(ctx context.Context, opts *LedgerOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	evs, err := readEvents(path)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to read events", err))
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	result, err := appendEvents(ctx, a.ledger, evs)
	if err != nil {
		return formatter.Fail(err)
	}
	return outputAppend(formatter, result)
}

func runLedgerImport(ctx context.Context, opts *LedgerOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.Config()
	if err != nil {
		return formatter.Fail(err)
	}
	src, err := source.OpenCSVChangeSource(cfg.DimensionID(), opts.CSV)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to read change csv", err))
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	byLevel := src.ByLevel()
	levels := make([]ir.Level, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	slices.Sort(levels)

	var evs []ir.ChangeEvent
	for _, level := range levels {
		grouped, err := ledger.GroupChanges(a.ledger.Dimension(), level, byLevel[level])
		if err != nil {
			return formatter.Fail(err)
		}
		for i := range grouped {
			grouped[i].Source = "csv:" + filepath.Base(opts.CSV)
		}
		evs = append(evs, grouped...)
	}
	// Effective dates must not go back across levels.
	ledger.SortAppendOrder(evs)
	formatter.VerboseLog("Grouped %d record(s) into %d event(s)", len(src.Records()), len(evs))

	result, err := appendEvents(ctx, a.ledger, evs)
	if err != nil {
		return formatter.Fail(err)
	}
	return outputAppend(formatter, result)
}

func appendEvents(ctx context.Context, l *ledger.Ledger, evs []ir.ChangeEvent) (AppendResult, error) {
	n, err := l.AppendBatch(ctx, evs)
	if err != nil {
		return AppendResult{}, err
	}
	slog.Info("appended events",
		"dimension", l.Dimension().String(),
		"events", len(evs),
		"appended", n,
	)
	return AppendResult{
		Dimension: l.Dimension(),
		Events:    len(evs),
		Appended:  n,
		Skipped:   len(evs) - n,
	}, nil
}

func outputAppend(formatter *OutputFormatter, result AppendResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("%s: %d event(s), %d appended, %d already present",
		result.Dimension, result.Events, result.Appended, result.Skipped))
}

// readEvents decodes a JSON file holding one event or an array of events.
func readEvents(path string) ([]ir.ChangeEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		var evs []ir.ChangeEvent
		if err := json.Unmarshal(data, &evs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return evs, nil
	}
	var ev ir.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []ir.ChangeEvent{ev}, nil
}

func runLedgerEvents(ctx context.Context, opts *LedgerOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	var from, to ir.Date
	for _, f := range []struct {
		name, value string
		dst         *ir.Date
	}{{"from", opts.From, &from}, {"to", opts.To, &to}} {
		if f.value == "" {
			continue
		}
		d, err := ir.ParseDate(f.value)
		if err != nil {
			return formatter.Fail(ir.NewValidationError(f.name, f.value, err.Error()))
		}
		*f.dst = d
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	evs, err := a.ledger.EventsBetween(ctx, from, to)
	if err != nil {
		return formatter.Fail(err)
	}
	if evs == nil {
		evs = []ir.ChangeEvent{}
	}

	if formatter.JSON() {
		return formatter.Success(EventsResult{Dimension: a.ledger.Dimension(), Events: evs})
	}
	w := formatter.Writer
	if len(evs) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}
	for _, ev := range evs {
		fmt.Fprintf(w, "%s  level %d  %-12s %s -> %s  %s\n",
			ev.EffectiveDate, ev.Level, ev.Kind,
			strings.Join(ev.OldCodes(), ","), strings.Join(ev.NewCodes(), ","),
			shortID(ev.ID))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
