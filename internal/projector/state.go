package projector

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/atlas/internal/ir"
)

// Edge links a unit to a different unit that took over (part of) it.
// Continuing pairs keep their identity and produce no edge.
type Edge struct {
	From    ir.UnitID `json:"from"`
	To      ir.UnitID `json:"to"`
	EventID string    `json:"event_id"`
	Date    ir.Date   `json:"date"`
}

// State is a replay in progress: the units and versions produced by the
// base mapping and every event effective on or before Position.
//
// A State is never modified once returned; Advance works on a copy.
type State struct {
	dim      ir.Dimension
	base     ir.Date
	position ir.Date
	applied  int

	units   map[ir.UnitID]*unitState
	order   []ir.UnitID // creation order
	active  map[ir.Level]map[string]ir.UnitID
	lineage []Edge
}

type unitState struct {
	unit     ir.AdministrativeUnit
	versions []ir.UnitVersion
}

// Dimension returns the replayed dimension.
func (s *State) Dimension() ir.Dimension { return s.dim }

// Base returns the base mapping date.
func (s *State) Base() ir.Date { return s.base }

// Position returns the date up to which events have been applied.
func (s *State) Position() ir.Date { return s.position }

// Applied returns the number of events applied.
func (s *State) Applied() int { return s.applied }

// newState builds the initial state from the base mappings.
// A level-1 mapping creates level-1 units and their level-2 children; a
// level-2 mapping of the same year then adds level-3 children.
func newState(dim ir.Dimension, base []ir.ParentChildMapping) (*State, error) {
	if len(base) == 0 {
		return nil, ErrNoBase
	}
	s := &State{
		dim:    dim,
		units:  map[ir.UnitID]*unitState{},
		active: map[ir.Level]map[string]ir.UnitID{},
	}
	s.base = base[0].ReferenceDate
	for _, m := range base[1:] {
		s.base = ir.MinDate(s.base, m.ReferenceDate)
	}
	s.position = s.base

	ordered := slices.Clone(base)
	slices.SortFunc(ordered, func(a, b ir.ParentChildMapping) int { return int(a.Level) - int(b.Level) })

	for _, m := range ordered {
		child, ok := m.Level.Child()
		if !ok {
			return nil, ir.NewValidationError("level", m.Level.String(), "base mapping level has no children")
		}
		for _, p := range m.Parents {
			pid, ok := s.lookup(m.Level, p.Code)
			if !ok {
				var err error
				pid, err = s.createBase(m.Level, p.Code, p.Name, "", m.ReferenceDate)
				if err != nil {
					return nil, err
				}
			}
			for _, c := range p.Children {
				if _, dup := s.lookup(child, c.Code); dup {
					return nil, ir.NewValidationError("children", c.Code,
						fmt.Sprintf("base mapping %d lists level %d code twice", m.Year, child))
				}
				if _, err := s.createBase(child, c.Code, c.Name, pid, m.ReferenceDate); err != nil {
					return nil, err
				}
			}
		}
	}
	return s, nil
}

func (s *State) createBase(level ir.Level, code, name string, parent ir.UnitID, from ir.Date) (ir.UnitID, error) {
	id, err := ir.NewUnitID(ir.UnitOrigin{Dimension: s.dim, Level: level, Code: code, Date: from})
	if err != nil {
		return "", err
	}
	s.addUnit(id, level)
	if err := s.open(id, ir.UnitVersion{
		UnitID:    id,
		Level:     level,
		Code:      code,
		Name:      name,
		ParentID:  parent,
		ValidFrom: from,
	}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *State) addUnit(id ir.UnitID, level ir.Level) {
	s.units[id] = &unitState{unit: ir.AdministrativeUnit{ID: id, Dimension: s.dim, Level: level}}
	s.order = append(s.order, id)
}

// lookup returns the active unit holding code at level.
func (s *State) lookup(level ir.Level, code string) (ir.UnitID, bool) {
	id, ok := s.active[level][code]
	return id, ok
}

// current returns the open version of a unit.
func (s *State) current(id ir.UnitID) (ir.UnitVersion, bool) {
	u, ok := s.units[id]
	if !ok || len(u.versions) == 0 {
		return ir.UnitVersion{}, false
	}
	last := u.versions[len(u.versions)-1]
	return last, last.IsOpen()
}

// open appends a version and makes its code active.
func (s *State) open(id ir.UnitID, v ir.UnitVersion) error {
	u := s.units[id]
	if n := len(u.versions); n > 0 && u.versions[n-1].IsOpen() {
		last := u.versions[n-1]
		return &ir.IntervalOverlapError{
			UnitID:   id,
			Code:     last.Code,
			OpenFrom: last.ValidFrom,
			NewFrom:  v.ValidFrom,
			EventID:  v.OpenedBy,
		}
	}
	u.versions = append(u.versions, v)
	if !slices.Contains(u.unit.Codes, v.Code) {
		u.unit.Codes = append(u.unit.Codes, v.Code)
	}
	u.unit.Label = v.Name

	if s.active[v.Level] == nil {
		s.active[v.Level] = map[string]ir.UnitID{}
	}
	s.active[v.Level][v.Code] = id
	return nil
}

// close ends a unit's open version at d and releases its code.
// An open version that began on d itself is dropped instead when the unit
// continues or when the previous version already ends on d, so no empty
// interval is left behind.
func (s *State) close(id ir.UnitID, d ir.Date, eventID string, continues bool) {
	u := s.units[id]
	n := len(u.versions)
	if n == 0 || !u.versions[n-1].IsOpen() {
		return
	}
	last := &u.versions[n-1]
	if s.active[last.Level][last.Code] == id {
		delete(s.active[last.Level], last.Code)
	}
	if last.ValidFrom.Equal(d) {
		prevEnds := n > 1 && u.versions[n-2].ValidTo != nil && u.versions[n-2].ValidTo.Equal(d)
		if continues || prevEnds {
			u.versions = u.versions[:n-1]
			if !continues {
				u.versions[n-2].ClosedBy = eventID
			}
			return
		}
	}
	to := d
	last.ValidTo = &to
	last.ClosedBy = eventID
}

// activeAt returns the versions active on d ordered by (level, code, id).
func (s *State) activeAt(d ir.Date) []ir.UnitVersion {
	var out []ir.UnitVersion
	for _, id := range s.order {
		for _, v := range s.units[id].versions {
			if v.Contains(d) {
				out = append(out, v)
				break
			}
		}
	}
	sortVersions(out)
	return out
}

// childrenOf returns the open child versions of a unit ordered by code.
func (s *State) childrenOf(id ir.UnitID, level ir.Level) []ir.UnitVersion {
	child, ok := level.Child()
	if !ok {
		return nil
	}
	var out []ir.UnitVersion
	for _, code := range sortedKeys(s.active[child]) {
		v, ok := s.current(s.active[child][code])
		if ok && v.ParentID == id {
			out = append(out, v)
		}
	}
	return out
}

func (s *State) clone() *State {
	c := &State{
		dim:      s.dim,
		base:     s.base,
		position: s.position,
		applied:  s.applied,
		units:    make(map[ir.UnitID]*unitState, len(s.units)),
		order:    slices.Clone(s.order),
		active:   make(map[ir.Level]map[string]ir.UnitID, len(s.active)),
		lineage:  slices.Clone(s.lineage),
	}
	for id, u := range s.units {
		cu := &unitState{unit: u.unit, versions: slices.Clone(u.versions)}
		cu.unit.Codes = slices.Clone(u.unit.Codes)
		c.units[id] = cu
	}
	for level, codes := range s.active {
		c.active[level] = maps.Clone(codes)
	}
	return c
}

func sortVersions(vs []ir.UnitVersion) {
	slices.SortFunc(vs, func(a, b ir.UnitVersion) int {
		if a.Level != b.Level {
			return int(a.Level) - int(b.Level)
		}
		if c := strings.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		if c := a.ValidFrom.Compare(b.ValidFrom); c != 0 {
			return c
		}
		return strings.Compare(string(a.UnitID), string(b.UnitID))
	})
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
