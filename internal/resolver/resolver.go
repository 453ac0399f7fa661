// Package resolver answers "which unit identity did this code denote on
// this date?" over an immutable projector.Timeline.
//
// Resolve is strict: it never substitutes a neighbouring version. When a
// code did not exist on the date, the returned *ir.UnresolvedUnitError
// carries the nearest version as a diagnostic. ResolveNearest is the
// explicit variant that returns that version as a result.
package resolver

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projector"
)

// CodeValidator checks code syntax for a level. *taxonomy.Taxonomy
// implements it.
type CodeValidator interface {
	ValidateCode(dim ir.Dimension, level ir.Level, code string) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCodeValidator rejects syntactically invalid codes up front.
func WithCodeValidator(v CodeValidator) Option {
	return func(r *Resolver) {
		r.codes = v
	}
}

// WithNow sets the clock that bounds as-of dates. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver resolves codes against a Timeline. It is safe for concurrent
// use; the Timeline must not be modified after New.
type Resolver struct {
	tl    *projector.Timeline
	codes CodeValidator
	now   func() time.Time

	held map[holdingKey][]holding
}

type holdingKey struct {
	level ir.Level
	code  string
}

// holding is one version that held a code, with its position in the
// unit's version chain.
type holding struct {
	index   int
	version ir.UnitVersion
}

// New indexes a timeline for resolution.
func New(tl *projector.Timeline, opts ...Option) *Resolver {
	r := &Resolver{tl: tl, now: time.Now, held: map[holdingKey][]holding{}}
	for _, opt := range opts {
		opt(r)
	}
	for _, u := range tl.Units {
		for i, v := range tl.Versions[u.ID] {
			k := holdingKey{level: v.Level, code: v.Code}
			r.held[k] = append(r.held[k], holding{index: i, version: v})
		}
	}
	return r
}

// Dimension returns the timeline's dimension.
func (r *Resolver) Dimension() ir.Dimension {
	return r.tl.Dimension
}

// Range returns the dates a resolution may ask about: from the base
// mapping date to today or the last event date, whichever is later.
func (r *Resolver) Range() (from, to ir.Date) {
	return r.tl.Base, ir.MaxDate(ir.DateOf(r.now()), r.tl.Last)
}

// Resolve returns the unit that held code at level on asOf.
func (r *Resolver) Resolve(code string, asOf ir.Date, level ir.Level) (ir.Resolution, error) {
	if err := r.check(code, asOf, level); err != nil {
		return ir.Resolution{}, err
	}
	res, ok, err := r.exact(code, asOf, level)
	if err != nil || ok {
		return res, err
	}

	unresolved := &ir.UnresolvedUnitError{Code: code, Level: level, AsOf: asOf}
	if near, ok, err := r.nearest(code, asOf, level); err == nil && ok {
		unresolved.Nearest = &near
	}
	return ir.Resolution{}, unresolved
}

// ResolveNearest is Resolve with traversal: when no version holds code on
// asOf it returns the closest version that held it at another time, with
// its direction and the number of version changes between the two.
// Equal distances prefer the earlier version.
func (r *Resolver) ResolveNearest(code string, asOf ir.Date, level ir.Level) (ir.Resolution, error) {
	if err := r.check(code, asOf, level); err != nil {
		return ir.Resolution{}, err
	}
	res, ok, err := r.exact(code, asOf, level)
	if err != nil || ok {
		return res, err
	}
	res, ok, err = r.nearest(code, asOf, level)
	if err != nil {
		return ir.Resolution{}, err
	}
	if !ok {
		return ir.Resolution{}, &ir.UnresolvedUnitError{Code: code, Level: level, AsOf: asOf}
	}
	return res, nil
}

func (r *Resolver) check(code string, asOf ir.Date, level ir.Level) error {
	if !level.Valid() {
		return ir.NewValidationError("level", fmt.Sprint(int(level)), "unknown level")
	}
	if r.codes != nil {
		if err := r.codes.ValidateCode(r.tl.Dimension, level, code); err != nil {
			return err
		}
	}
	from, to := r.Range()
	if asOf.IsZero() || asOf.Before(from) || asOf.After(to) {
		return ir.NewValidationError("as_of", asOf.String(),
			fmt.Sprintf("outside the known range %s to %s", from, to))
	}
	return nil
}

func (r *Resolver) exact(code string, asOf ir.Date, level ir.Level) (ir.Resolution, bool, error) {
	var found []holding
	for _, h := range r.held[holdingKey{level: level, code: code}] {
		if h.version.Contains(asOf) {
			found = append(found, h)
		}
	}
	switch len(found) {
	case 0:
		return ir.Resolution{}, false, nil
	case 1:
		return ir.Resolution{
			UnitID:    found[0].version.UnitID,
			Version:   found[0].version,
			Direction: ir.DirectionExact,
		}, true, nil
	}
	units := make([]ir.UnitID, 0, len(found))
	for _, h := range found {
		units = append(units, h.version.UnitID)
	}
	slices.Sort(units)
	return ir.Resolution{}, false, &ir.AmbiguousUnitError{Code: code, Level: level, AsOf: asOf, Units: slices.Compact(units)}
}

// nearest finds the holding closest in time to asOf.
func (r *Resolver) nearest(code string, asOf ir.Date, level ir.Level) (ir.Resolution, bool, error) {
	type candidate struct {
		res  ir.Resolution
		days int
	}
	var best []candidate
	for _, h := range r.held[holdingKey{level: level, code: code}] {
		c := candidate{res: ir.Resolution{UnitID: h.version.UnitID, Version: h.version}}
		if h.version.ValidFrom.After(asOf) {
			c.res.Direction = ir.DirectionForward
			c.days = daysBetween(asOf, h.version.ValidFrom)
		} else if h.version.ValidTo != nil {
			c.res.Direction = ir.DirectionBackward
			c.days = daysBetween(*h.version.ValidTo, asOf) + 1
		} else {
			continue
		}
		c.res.Hops = r.hops(h, asOf)

		switch {
		case len(best) == 0 || c.days < best[0].days:
			best = []candidate{c}
		case c.days > best[0].days:
		case c.res.Direction == best[0].res.Direction:
			best = append(best, c)
		case c.res.Direction == ir.DirectionBackward:
			best = []candidate{c}
		}
	}
	if len(best) == 0 {
		return ir.Resolution{}, false, nil
	}

	units := []ir.UnitID{}
	for _, c := range best {
		if !slices.Contains(units, c.res.UnitID) {
			units = append(units, c.res.UnitID)
		}
	}
	if len(units) > 1 {
		slices.Sort(units)
		return ir.Resolution{}, false, &ir.AmbiguousUnitError{Code: code, Level: level, AsOf: asOf, Units: units}
	}
	return best[0].res, true, nil
}

// hops counts the version changes between a holding and the version of
// the same unit on asOf. Not existing yet, or no longer, counts as one
// more change.
func (r *Resolver) hops(h holding, asOf ir.Date) int {
	versions := r.tl.Versions[h.version.UnitID]
	for j, v := range versions {
		if v.Contains(asOf) {
			return abs(j - h.index)
		}
	}
	if asOf.Before(versions[0].ValidFrom) {
		return h.index + 1
	}
	return len(versions) - h.index
}

// Successors returns the units active on asOf that descend from id:
// id itself while it is active, else the units it was merged or split
// into, followed through later changes.
func (r *Resolver) Successors(id ir.UnitID, asOf ir.Date) ([]ir.UnitID, error) {
	if _, ok := r.tl.Unit(id); !ok {
		return nil, fmt.Errorf("%w: %s", projector.ErrUnknownUnit, id)
	}
	from, to := r.Range()
	if asOf.Before(from) || asOf.After(to) {
		return nil, ir.NewValidationError("as_of", asOf.String(),
			fmt.Sprintf("outside the known range %s to %s", from, to))
	}

	var out []ir.UnitID
	seen := map[ir.UnitID]bool{id: true}
	queue := []ir.UnitID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if r.activeOn(cur, asOf) {
			out = append(out, cur)
			continue
		}
		for _, e := range r.tl.Lineage {
			if e.From != cur || e.Date.After(asOf) || seen[e.To] {
				continue
			}
			seen[e.To] = true
			queue = append(queue, e.To)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *Resolver) activeOn(id ir.UnitID, d ir.Date) bool {
	for _, v := range r.tl.Versions[id] {
		if v.Contains(d) {
			return true
		}
	}
	return false
}

func daysBetween(a, b ir.Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
