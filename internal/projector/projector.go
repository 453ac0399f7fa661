package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/atlas/internal/ir"
)

var (
	// ErrNoBase is returned when a dimension has no published base mapping.
	ErrNoBase = errors.New("no base mapping published")

	// ErrUnknownUnit is returned by History for an id no replay produced.
	ErrUnknownUnit = errors.New("unknown unit")
)

// Source is the ledger a projector replays. *ledger.Ledger implements it.
type Source interface {
	Dimension() ir.Dimension
	Base(ctx context.Context) ([]ir.ParentChildMapping, error)
	EventsBetween(ctx context.Context, from, to ir.Date) ([]ir.ChangeEvent, error)
	LastDate(ctx context.Context) (ir.Date, error)
	Head(ctx context.Context) (string, error)
}

// Cache stores rendered snapshots. Implementations live in internal/cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Option configures a Projector.
type Option func(*Projector)

// WithCache caches snapshots keyed by (dimension, as-of, ledger head).
func WithCache(c Cache) Option {
	return func(p *Projector) {
		p.cache = c
	}
}

// Projector answers SCD2 questions by replaying a Source.
// It holds no replay state and is safe for concurrent use.
type Projector struct {
	src   Source
	cache Cache
}

// New creates a projector over src.
func New(src Source, opts ...Option) *Projector {
	p := &Projector{src: src}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Replay builds the state of the dimension as of date to.
func (p *Projector) Replay(ctx context.Context, to ir.Date) (*State, error) {
	base, err := p.src.Base(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", p.src.Dimension(), err)
	}
	st, err := newState(p.src.Dimension(), base)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", p.src.Dimension(), err)
	}
	if to.Before(st.base) {
		return nil, ir.NewValidationError("as_of", to.String(),
			fmt.Sprintf("before the base mapping date %s", st.base))
	}
	return p.Advance(ctx, st, to)
}

// Advance applies the events effective after the state's position and on
// or before to. The given state is not modified.
func (p *Projector) Advance(ctx context.Context, st *State, to ir.Date) (*State, error) {
	if to.Before(st.position) {
		return nil, ir.NewValidationError("to", to.String(),
			fmt.Sprintf("state is already at %s", st.position))
	}
	next := st.clone()
	if !to.After(st.position) {
		return next, nil
	}

	evs, err := p.src.EventsBetween(ctx, st.position.AddDays(1), to)
	if err != nil {
		return nil, fmt.Errorf("advance to %s: %w", to, err)
	}
	ir.OrderCodeReuse(evs)
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := next.apply(ev); err != nil {
			return nil, fmt.Errorf("apply event %s: %w", shortID(ev.ID), err)
		}
	}
	next.position = to

	slog.Debug("replay advanced",
		"dimension", next.dim.String(),
		"from", st.position.String(),
		"to", to.String(),
		"events", len(evs),
	)
	return next, nil
}

// Apply returns a copy of the state with evs applied in replay order:
// by effective date, then level, then the given order. Every event must be
// effective after the state's position. The state is not modified.
func (s *State) Apply(evs ...ir.ChangeEvent) (*State, error) {
	ordered := slices.Clone(evs)
	slices.SortStableFunc(ordered, func(a, b ir.ChangeEvent) int {
		if c := a.EffectiveDate.Compare(b.EffectiveDate); c != 0 {
			return c
		}
		return int(a.Level) - int(b.Level)
	})
	ir.OrderCodeReuse(ordered)

	next := s.clone()
	for _, ev := range ordered {
		if !ev.EffectiveDate.After(s.position) {
			return nil, ir.NewValidationError("effective_date", ev.EffectiveDate.String(),
				fmt.Sprintf("state is already at %s", s.position))
		}
		if err := next.apply(ev); err != nil {
			return nil, fmt.Errorf("apply event %s: %w", eventLabel(ev), err)
		}
		next.position = ir.MaxDate(next.position, ev.EffectiveDate)
	}
	return next, nil
}

// CheckEvent replays the ledger up to ev's effective date with ev added
// and reports the first inconsistency, such as an old code that is not
// active or a new code held by an unrelated unit. A dimension without a
// base accepts anything.
func (p *Projector) CheckEvent(ctx context.Context, ev ir.ChangeEvent) error {
	base, err := p.src.Base(ctx)
	if err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	if len(base) == 0 {
		return nil
	}
	d := ev.EffectiveDate
	st, err := p.Replay(ctx, d.AddDays(-1))
	if err != nil {
		return err
	}
	day, err := p.src.EventsBetween(ctx, d, d)
	if err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	_, err = st.Apply(append(day, ev)...)
	return err
}

// Project returns the unit versions active on asOf and the constituents
// of every parent.
func (p *Projector) Project(ctx context.Context, asOf ir.Date) (*Snapshot, error) {
	head, err := p.src.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	key := cacheKey(p.src.Dimension(), asOf, head)
	if snap, ok := p.cached(ctx, key); ok {
		return snap, nil
	}

	st, err := p.Replay(ctx, asOf)
	if err != nil {
		return nil, err
	}
	snap := st.Snapshot(asOf)
	snap.Head = head

	if p.cache != nil {
		if b, err := snap.Canonical(); err == nil {
			if err := p.cache.Put(ctx, key, b); err != nil {
				slog.Warn("snapshot cache write failed", "key", key, "error", err)
			}
		}
	}
	return snap, nil
}

func (p *Projector) cached(ctx context.Context, key string) (*Snapshot, bool) {
	if p.cache == nil {
		return nil, false
	}
	b, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("snapshot cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		slog.Warn("discarding unreadable cached snapshot", "key", key, "error", err)
		return nil, false
	}
	slog.Debug("snapshot cache hit", "key", key)
	return &snap, true
}

func cacheKey(dim ir.Dimension, asOf ir.Date, head string) string {
	return fmt.Sprintf("atlas:snapshot:%s:%s:%s", dim, asOf, head)
}

// Timeline replays the whole ledger.
func (p *Projector) Timeline(ctx context.Context) (*Timeline, error) {
	last, err := p.src.LastDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	base, err := p.src.Base(ctx)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	if len(base) == 0 {
		return nil, ErrNoBase
	}
	to := base[0].ReferenceDate
	for _, m := range base {
		to = ir.MinDate(to, m.ReferenceDate)
	}
	to = ir.MaxDate(to, last)

	st, err := p.Replay(ctx, to)
	if err != nil {
		return nil, err
	}
	return st.Timeline(), nil
}

// History returns the full version chain of a unit, oldest first.
func (p *Projector) History(ctx context.Context, id ir.UnitID) ([]ir.UnitVersion, error) {
	tl, err := p.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	vs, ok := tl.Versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return slices.Clone(vs), nil
}

// Constituents returns the children the unit holding code at level had
// on asOf.
func (p *Projector) Constituents(ctx context.Context, code string, level ir.Level, asOf ir.Date) (Constituent, error) {
	if _, ok := level.Child(); !ok {
		return Constituent{}, ir.NewValidationError("level", level.String(), "level has no children")
	}
	st, err := p.Replay(ctx, asOf)
	if err != nil {
		return Constituent{}, err
	}
	id, ok := st.lookup(level, code)
	if !ok {
		return Constituent{}, &ir.UnresolvedUnitError{Code: code, Level: level, AsOf: asOf}
	}
	return st.constituent(id), nil
}

// eventLabel names an event in errors, by id once it has one.
func eventLabel(ev ir.ChangeEvent) string {
	if ev.ID != "" {
		return shortID(ev.ID)
	}
	return fmt.Sprintf("%s level %d %v -> %v", ev.EffectiveDate, ev.Level, ev.OldCodes(), ev.NewCodes())
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
