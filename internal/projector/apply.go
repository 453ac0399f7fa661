package projector

import (
	"fmt"
	"slices"

	"github.com/roach88/atlas/internal/ir"
)

// apply replays one event onto the state. The state may be left
// half-updated on error; callers discard it.
func (s *State) apply(ev ir.ChangeEvent) error {
	d := ev.EffectiveDate
	level := ev.Level

	oldIDs := make(map[string]ir.UnitID, len(ev.Old))
	oldSet := map[ir.UnitID]bool{}
	for _, code := range ev.OldCodes() {
		id, ok := s.lookup(level, code)
		if !ok {
			return &ir.UnresolvedUnitError{Code: code, Level: level, AsOf: d}
		}
		oldIDs[code] = id
		oldSet[id] = true
	}

	for _, code := range ev.NewCodes() {
		holder, ok := s.lookup(level, code)
		if !ok || oldSet[holder] {
			continue
		}
		units := []ir.UnitID{holder}
		for _, pred := range ev.PredecessorsOf(code) {
			units = append(units, oldIDs[pred])
		}
		slices.Sort(units)
		return &ir.AmbiguousUnitError{Code: code, Level: level, AsOf: d, Units: slices.Compact(units)}
	}

	// Identity of every new code: the continued unit or a fresh one.
	newIDs := make(map[string]ir.UnitID, len(ev.New))
	continues := map[ir.UnitID]bool{}
	var created []ir.UnitID
	for _, code := range ev.NewCodes() {
		var id ir.UnitID
		for _, p := range ev.Pairs {
			if p.New == code && p.Continues {
				id = oldIDs[p.Old]
				continues[id] = true
			}
		}
		if id == "" {
			var err error
			id, err = ir.NewUnitID(ir.UnitOrigin{Dimension: s.dim, Level: level, Code: code, Date: d, Event: ev.ID})
			if err != nil {
				return err
			}
			created = append(created, id)
		}
		newIDs[code] = id
	}

	parents, err := s.parentsFor(ev, oldIDs, newIDs, continues)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(ev.New))
	for _, code := range ev.NewCodes() {
		names[code] = ev.NewName(code)
		if names[code] != "" {
			continue
		}
		if v, ok := s.current(newIDs[code]); ok {
			names[code] = v.Name
		} else {
			names[code] = code
		}
	}

	for _, code := range ev.OldCodes() {
		id := oldIDs[code]
		s.close(id, d, ev.ID, continues[id])
	}
	for _, id := range created {
		s.addUnit(id, level)
	}
	for _, code := range ev.NewCodes() {
		id := newIDs[code]
		if err := s.open(id, ir.UnitVersion{
			UnitID:    id,
			Level:     level,
			Code:      code,
			Name:      names[code],
			ParentID:  parents[code],
			ValidFrom: d,
			OpenedBy:  ev.ID,
		}); err != nil {
			return err
		}
	}

	if err := s.moveChildren(ev, oldIDs, newIDs, continues); err != nil {
		return err
	}

	for _, p := range ev.Pairs {
		from, to := oldIDs[p.Old], newIDs[p.New]
		if from != to {
			s.lineage = append(s.lineage, Edge{From: from, To: to, EventID: ev.ID, Date: d})
		}
	}
	s.applied++
	return nil
}

// parentsFor decides the parent of every new code of a below-top-level
// event: an explicit assignment, else the continued unit's parent, else
// the parent its predecessors share.
func (s *State) parentsFor(ev ir.ChangeEvent, oldIDs, newIDs map[string]ir.UnitID, continues map[ir.UnitID]bool) (map[string]ir.UnitID, error) {
	parentLevel, ok := ev.Level.Parent()
	if !ok {
		return nil, nil
	}
	out := make(map[string]ir.UnitID, len(ev.New))
	for _, code := range ev.NewCodes() {
		if pc, ok := ev.ParentFor(code); ok {
			pid, ok := s.lookup(parentLevel, pc)
			if !ok {
				return nil, fmt.Errorf("parent of %s: %w", code,
					&ir.UnresolvedUnitError{Code: pc, Level: parentLevel, AsOf: ev.EffectiveDate})
			}
			out[code] = pid
			continue
		}
		if id := newIDs[code]; continues[id] {
			v, _ := s.current(id)
			out[code] = v.ParentID
			continue
		}

		var common ir.UnitID
		for i, pred := range ev.PredecessorsOf(code) {
			v, _ := s.current(oldIDs[pred])
			if i == 0 {
				common = v.ParentID
			} else if v.ParentID != common {
				return nil, ir.NewValidationError("parents", code,
					"predecessors have different parents; the event must assign one")
			}
		}
		out[code] = common
	}
	return out, nil
}

// moveChildren re-homes the children of the event's old units.
func (s *State) moveChildren(ev ir.ChangeEvent, oldIDs, newIDs map[string]ir.UnitID, continues map[ir.UnitID]bool) error {
	child, ok := ev.Level.Child()
	if !ok {
		return nil
	}
	d := ev.EffectiveDate

	affected := map[ir.UnitID]bool{}
	for _, id := range oldIDs {
		affected[id] = true
	}

	moved := map[string]bool{}
	for _, code := range sortedKeys(s.active[child]) {
		id := s.active[child][code]
		v, ok := s.current(id)
		if !ok || !affected[v.ParentID] {
			continue
		}
		moved[code] = true

		var target ir.UnitID
		switch pc, explicit := ev.ChildParent(code); {
		case explicit:
			target = newIDs[pc]
		case continues[v.ParentID]:
			target = v.ParentID
		case len(ev.New) == 1:
			target = newIDs[ev.New[0].Code]
		default:
			return ir.NewValidationError("children", code,
				fmt.Sprintf("parent %s changed in %s and no new parent is assigned", s.codeOf(v.ParentID), ev.Kind))
		}
		if target == v.ParentID {
			continue
		}

		s.close(id, d, ev.ID, true)
		next := v
		next.ParentID = target
		next.ValidFrom = d
		next.ValidTo = nil
		next.OpenedBy = ev.ID
		next.ClosedBy = ""
		if err := s.open(id, next); err != nil {
			return err
		}
	}

	for _, c := range ev.Children {
		if !moved[c.Code] {
			return ir.NewValidationError("children", c.Code,
				"reassigned child is not a child of the event's old units")
		}
	}
	return nil
}

// codeOf returns the latest code a unit held.
func (s *State) codeOf(id ir.UnitID) string {
	u, ok := s.units[id]
	if !ok || len(u.versions) == 0 {
		return string(id)
	}
	return u.versions[len(u.versions)-1].Code
}
