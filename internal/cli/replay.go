package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/cache"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projector"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	AsOf string // optional - defaults to the later of today and the last event
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Dimension     ir.Dimension `json:"dimension"`
	AsOf          ir.Date      `json:"as_of"`
	Events        int          `json:"events"`
	Units         int          `json:"units"`
	Head          string       `json:"head"`
	Digest        string       `json:"digest"` // sha256 of the canonical snapshot
	Deterministic bool         `json:"deterministic"`

	// CacheConsistent is set when a snapshot cache is configured and
	// reports whether the cached snapshot matches a fresh replay.
	CacheConsistent *bool `json:"cache_consistent,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the ledger and verify determinism",
		Long: `Replay the change event ledger twice and verify that both replays
produce byte-identical snapshots and timelines.

When a snapshot cache is configured, the cached snapshot is compared with
the fresh replay as well.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, no base mapping, etc.)

Examples:
  atlas replay
  atlas replay --as-of 2024-06-01 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(commandContext(cmd), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "snapshot date YYYY-MM-DD")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer a.Close()

	result, err := replayAndVerify(ctx, a, opts.AsOf)
	if err != nil {
		return formatter.Fail(err)
	}

	deterministic := result.Deterministic && (result.CacheConsistent == nil || *result.CacheConsistent)
	if formatter.JSON() {
		if !deterministic {
			return formatter.Failure(result, CodeNonDeterministic, "determinism verification failed")
		}
		return formatter.Success(result)
	}
	return outputReplayText(formatter, result, deterministic)
}

// replayAndVerify replays the ledger twice without a cache and compares
// the canonical snapshots and the timelines.
func replayAndVerify(ctx context.Context, a *app, asOfFlag string) (ReplayResult, error) {
	asOf, err := replayDate(ctx, a, asOfFlag)
	if err != nil {
		return ReplayResult{}, err
	}
	fresh := projector.New(a.ledger)

	snaps := make([][]byte, 2)
	timelines := make([][]byte, 2)
	var (
		head  string
		units int
	)
	for i := range 2 {
		snap, err := fresh.Project(ctx, asOf)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay %d: %w", i+1, err)
		}
		if snaps[i], err = snap.Canonical(); err != nil {
			return ReplayResult{}, err
		}
		tl, err := fresh.Timeline(ctx)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay %d: %w", i+1, err)
		}
		if timelines[i], err = json.Marshal(tl); err != nil {
			return ReplayResult{}, err
		}
		head, units = snap.Head, len(tl.Units)
	}

	evs, err := a.ledger.Events(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	sum := sha256.Sum256(snaps[0])
	result := ReplayResult{
		Dimension:     a.ledger.Dimension(),
		AsOf:          asOf,
		Events:        len(evs),
		Units:         units,
		Head:          head,
		Digest:        hex.EncodeToString(sum[:]),
		Deterministic: bytes.Equal(snaps[0], snaps[1]) && bytes.Equal(timelines[0], timelines[1]),
	}

	if cache.Enabled(a.cache) {
		cached, err := a.proj.Project(ctx, asOf)
		if err != nil {
			return ReplayResult{}, err
		}
		b, err := cached.Canonical()
		if err != nil {
			return ReplayResult{}, err
		}
		ok := bytes.Equal(b, snaps[0])
		result.CacheConsistent = &ok
	}
	return result, nil
}

func replayDate(ctx context.Context, a *app, flag string) (ir.Date, error) {
	if flag != "" {
		return parseAsOf(flag)
	}
	last, err := a.ledger.LastDate(ctx)
	if err != nil {
		return ir.Date{}, err
	}
	return ir.MaxDate(ir.DateOf(time.Now()), last), nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult, deterministic bool) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %s on %s\n", result.Dimension, result.AsOf)
	fmt.Fprintf(w, "  Events: %d\n", result.Events)
	fmt.Fprintf(w, "  Units: %d\n", result.Units)
	if formatter.Verbose {
		fmt.Fprintf(w, "  Head: %s\n", result.Head)
		fmt.Fprintf(w, "  Digest: %s\n", result.Digest)
	}
	if result.CacheConsistent != nil && !*result.CacheConsistent {
		fmt.Fprintln(w, "  Warning: cached snapshot differs from a fresh replay!")
	}
	fmt.Fprintln(w)

	if deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	// Determinism failure = exit code 1
	return &ExitError{Code: ExitFailure, Message: "determinism verification failed", Reported: true}
}
