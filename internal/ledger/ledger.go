// Package ledger implements the change event ledger: an append-only,
// chronologically ordered log of change events per dimension, plus the
// registry of published parent-child mappings that anchors it.
//
// SINGLE WRITER: Append, AppendBatch and PublishMapping are serialised by
// a mutex. Reads go straight to the Log and may run concurrently.
//
// ORDER: an event may not be effective before the last appended event of
// its dimension, nor on or before the dimension's base mapping date.
// Nothing is ever reordered silently; such appends fail with
// *ir.EventOrderError.
//
// CONSISTENCY: with an EventChecker, an event must also apply to the
// replayed ledger: its old codes active, its new codes free.
//
// IDEMPOTENCY: event ids are content-addressed (ir.EventID), so appending
// an event that is already in the log is a no-op.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/atlas/internal/ir"
)

// CodeValidator checks code syntax for a level. *taxonomy.Taxonomy
// implements it.
type CodeValidator interface {
	ValidateCode(dim ir.Dimension, level ir.Level, code string) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCodeValidator validates every code appended or published.
func WithCodeValidator(v CodeValidator) Option {
	return func(l *Ledger) {
		l.codes = v
	}
}

// Sequencer hands out append sequence numbers. *Clock implements it.
type Sequencer interface {
	Next() int64
	Current() int64
}

// EventChecker vets an event against the ledger's replayed state before
// it is written. *projector.Projector implements it.
type EventChecker interface {
	CheckEvent(ctx context.Context, ev ir.ChangeEvent) error
}

// WithEventChecker rejects events that do not apply to the replayed
// ledger. The checker is built over the ledger itself, so it is given as
// a constructor.
func WithEventChecker(newChecker func(*Ledger) EventChecker) Option {
	return func(l *Ledger) {
		l.checker = newChecker(l)
	}
}

// WithClock sets the logical clock. Used by tests that need fixed seqs.
func WithClock(c Sequencer) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// Ledger is the change event ledger of one dimension.
type Ledger struct {
	mu      sync.Mutex // serialises writers
	log     Log
	dim     ir.Dimension
	clock   Sequencer
	codes   CodeValidator
	checker EventChecker
}

// New opens the ledger of a dimension on top of a Log.
// The logical clock resumes from the log's last sequence.
func New(ctx context.Context, log Log, dim ir.Dimension, opts ...Option) (*Ledger, error) {
	if dim.IsZero() {
		return nil, ir.NewValidationError("dimension", "", "ledger needs a dimension")
	}
	l := &Ledger{log: log, dim: dim}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		last, err := log.GetLastSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("open ledger %s: %w", dim, err)
		}
		l.clock = NewClockAt(last)
	}
	return l, nil
}

// Dimension returns the ledger's dimension.
func (l *Ledger) Dimension() ir.Dimension {
	return l.dim
}

// Append validates ev, stamps its id and sequence and appends it.
// Returns appended=false when an event with the same id already exists.
func (l *Ledger) Append(ctx context.Context, ev ir.ChangeEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, appended, err := l.appendLocked(ctx, ev)
	return appended, err
}

// AppendBatch appends events in the given order and stops at the first
// error. Returns the number of events newly appended.
func (l *Ledger) AppendBatch(ctx context.Context, evs []ir.ChangeEvent) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for i, ev := range evs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, appended, err := l.appendLocked(ctx, ev)
		if err != nil {
			return n, fmt.Errorf("append batch: event %d: %w", i, err)
		}
		if appended {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) appendLocked(ctx context.Context, ev ir.ChangeEvent) (ir.ChangeEvent, bool, error) {
	if ev.Dimension.IsZero() {
		ev.Dimension = l.dim
	}
	if ev.Dimension != l.dim {
		return ev, false, ir.NewValidationError("dimension", ev.Dimension.String(),
			fmt.Sprintf("event does not belong to ledger %s", l.dim))
	}
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return ev, false, err
	}
	if err := l.validateEventCodes(ev); err != nil {
		return ev, false, err
	}

	id, err := ir.EventID(ev)
	if err != nil {
		return ev, false, err
	}
	ev.ID = id

	exists, err := l.log.HasEvent(ctx, id)
	if err != nil {
		return ev, false, fmt.Errorf("append %s: %w", shortID(id), err)
	}
	if exists {
		slog.Debug("event already in ledger, skipping (idempotent)",
			"id", shortID(id),
			"dimension", l.dim.String(),
		)
		return ev, false, nil
	}

	if err := l.checkOrder(ctx, ev); err != nil {
		return ev, false, err
	}
	if l.checker != nil {
		if err := l.checker.CheckEvent(ctx, ev); err != nil {
			return ev, false, fmt.Errorf("append %s: %w", shortID(id), err)
		}
	}

	ev.Seq = l.clock.Next()
	inserted, err := l.log.WriteEvent(ctx, ev)
	if err != nil {
		return ev, false, fmt.Errorf("append %s: %w", shortID(id), err)
	}

	slog.Info("event appended",
		"id", shortID(id),
		"dimension", l.dim.String(),
		"level", int(ev.Level),
		"kind", string(ev.Kind),
		"effective_date", ev.EffectiveDate.String(),
		"seq", ev.Seq,
	)
	return ev, inserted, nil
}

// checkOrder enforces chronological appends.
func (l *Ledger) checkOrder(ctx context.Context, ev ir.ChangeEvent) error {
	base, ok, err := l.baseDate(ctx)
	if err != nil {
		return err
	}
	if ok && !ev.EffectiveDate.After(base) {
		return &ir.EventOrderError{
			EventID:       ev.ID,
			Dimension:     l.dim,
			EffectiveDate: ev.EffectiveDate,
			LastDate:      base,
			Reason:        "effective date is not after the base mapping date",
		}
	}

	last, err := l.log.LastEffectiveDate(ctx, l.dim)
	if err != nil {
		return fmt.Errorf("append %s: %w", shortID(ev.ID), err)
	}
	if ev.EffectiveDate.Before(last) {
		return &ir.EventOrderError{
			EventID:       ev.ID,
			Dimension:     l.dim,
			EffectiveDate: ev.EffectiveDate,
			LastDate:      last,
		}
	}
	return nil
}

func (l *Ledger) validateEventCodes(ev ir.ChangeEvent) error {
	if l.codes == nil {
		return nil
	}
	for _, refs := range [][]ir.CodeRef{ev.Old, ev.New} {
		for _, r := range refs {
			if err := l.codes.ValidateCode(l.dim, ev.Level, r.Code); err != nil {
				return err
			}
		}
	}
	if parent, ok := ev.Level.Parent(); ok {
		for _, p := range ev.Parents {
			if err := l.codes.ValidateCode(l.dim, parent, p.ParentCode); err != nil {
				return err
			}
		}
	}
	if child, ok := ev.Level.Child(); ok {
		for _, c := range ev.Children {
			if err := l.codes.ValidateCode(l.dim, child, c.Code); err != nil {
				return err
			}
		}
	}
	return nil
}

// Events returns the full ledger in replay order.
func (l *Ledger) Events(ctx context.Context) ([]ir.ChangeEvent, error) {
	evs, err := l.log.ReadEvents(ctx, l.dim)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", l.dim, err)
	}
	return evs, nil
}

// EventsBetween returns events with from <= effective date <= to in
// replay order.
func (l *Ledger) EventsBetween(ctx context.Context, from, to ir.Date) ([]ir.ChangeEvent, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, ir.NewValidationError("to", to.String(),
			fmt.Sprintf("window ends before it starts (%s)", from))
	}
	evs, err := l.log.ReadEventsBetween(ctx, l.dim, from, to)
	if err != nil {
		return nil, fmt.Errorf("events between %s and %s: %w", from, to, err)
	}
	return evs, nil
}

// LastDate returns the effective date of the latest event, or the zero
// date for an empty ledger.
func (l *Ledger) LastDate(ctx context.Context) (ir.Date, error) {
	return l.log.LastEffectiveDate(ctx, l.dim)
}

// Head returns a digest of the ledger state: the event count and the id of
// the most recently appended event. Any append changes it, so it keys
// cached projections.
func (l *Ledger) Head(ctx context.Context) (string, error) {
	evs, err := l.Events(ctx)
	if err != nil {
		return "", err
	}
	var last ir.ChangeEvent
	for _, ev := range evs {
		if ev.Seq >= last.Seq {
			last = ev
		}
	}
	mappings, err := l.Mappings(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%s", len(mappings), len(evs), shortID(last.ID)), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
