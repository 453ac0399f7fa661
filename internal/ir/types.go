package ir

import (
	"fmt"
	"slices"
	"strings"
)

// UnitID is the stable surrogate key of an administrative unit.
// It is a name-based UUID derived from the unit's origin (see NewUnitID),
// never a government code.
type UnitID string

// AdministrativeUnit is a durable unit identity with the codes it has held.
type AdministrativeUnit struct {
	ID        UnitID    `json:"id"`
	Dimension Dimension `json:"dimension"`
	Level     Level     `json:"level"`
	Label     string    `json:"label"`
	Codes     []string  `json:"codes"` // in order of first use
}

// UnitVersion is one SCD2 row: a unit's attributes over [ValidFrom, ValidTo).
// A nil ValidTo means the version is still open (current).
type UnitVersion struct {
	UnitID    UnitID `json:"unit_id"`
	Level     Level  `json:"level"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	ParentID  UnitID `json:"parent_id,omitempty"`
	ValidFrom Date   `json:"valid_from"`
	ValidTo   *Date  `json:"valid_to,omitempty"`
	OpenedBy  string `json:"opened_by,omitempty"` // change event id; empty for base versions
	ClosedBy  string `json:"closed_by,omitempty"`
}

// IsOpen reports whether the version has not been superseded.
func (v UnitVersion) IsOpen() bool { return v.ValidTo == nil }

// Contains reports whether d falls inside the version's validity interval.
func (v UnitVersion) Contains(d Date) bool {
	if d.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || d.Before(*v.ValidTo)
}

// Overlaps reports whether two versions' intervals intersect.
func (v UnitVersion) Overlaps(o UnitVersion) bool {
	aEndsBeforeB := v.ValidTo != nil && !v.ValidTo.After(o.ValidFrom)
	bEndsBeforeA := o.ValidTo != nil && !o.ValidTo.After(v.ValidFrom)
	return !aEndsBeforeB && !bEndsBeforeA
}

// CodeRef is a government code with the name it carried.
type CodeRef struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// CodePair links one old code to one new code inside a change event.
// Continues marks the pair along which the unit identity survives.
type CodePair struct {
	Old       string `json:"old" yaml:"old"`
	New       string `json:"new" yaml:"new"`
	Continues bool   `json:"continues,omitempty" yaml:"continues,omitempty"`
}

// ParentAssignment places the unit labelled Code under the unit labelled
// ParentCode, both as of the event's effective date.
type ParentAssignment struct {
	Code       string `json:"code" yaml:"code"`
	ParentCode string `json:"parent_code" yaml:"parent_code"`
}

// ChangeKind classifies a change event by its shape.
type ChangeKind string

const (
	ChangeRename       ChangeKind = "rename"       // 1 -> 1, code or name differs
	ChangeMerge        ChangeKind = "merge"        // N -> 1
	ChangeSplit        ChangeKind = "split"        // 1 -> N
	ChangeRedistribute ChangeKind = "redistribute" // N -> M
	ChangeReparent     ChangeKind = "reparent"     // 1 -> 1, same code, new parent
)

// ChangeEvent records a transition between old and new unit codes at one
// level, effective on EffectiveDate. The full old and new sets are kept so
// partial continuity (one unit keeps its identity, others fold in) can be
// expressed through Pairs.
type ChangeEvent struct {
	ID            string     `json:"id"`  // content-addressed, see EventID
	Seq           int64      `json:"seq"` // ledger append order; 0 before append
	Dimension     Dimension  `json:"dimension"`
	Level         Level      `json:"level"`
	EffectiveDate Date       `json:"effective_date"`
	Kind          ChangeKind `json:"kind"`
	Old           []CodeRef  `json:"old"`
	New           []CodeRef  `json:"new"`
	Pairs         []CodePair `json:"pairs"`

	// Parents assigns a parent to new codes (events below level 1).
	Parents []ParentAssignment `json:"parents,omitempty"`

	// Children reassigns child units of the old codes to new codes; required
	// when a parent splits and its children cannot follow a single successor.
	Children []ParentAssignment `json:"children,omitempty"`

	Source string `json:"source,omitempty"`
}

// OldCodes returns the sorted old codes.
func (e ChangeEvent) OldCodes() []string { return refCodes(e.Old) }

// NewCodes returns the sorted new codes.
func (e ChangeEvent) NewCodes() []string { return refCodes(e.New) }

// OldName returns the recorded name of an old code.
func (e ChangeEvent) OldName(code string) string { return refName(e.Old, code) }

// NewName returns the recorded name of a new code.
func (e ChangeEvent) NewName(code string) string { return refName(e.New, code) }

// ParentFor returns the parent assignment for a new code, if any.
func (e ChangeEvent) ParentFor(code string) (string, bool) {
	for _, p := range e.Parents {
		if p.Code == code {
			return p.ParentCode, true
		}
	}
	return "", false
}

// ChildParent returns the reassigned parent code for a child code, if any.
func (e ChangeEvent) ChildParent(childCode string) (string, bool) {
	for _, c := range e.Children {
		if c.Code == childCode {
			return c.ParentCode, true
		}
	}
	return "", false
}

// ContinuationOf returns the new code the old code continues into.
func (e ChangeEvent) ContinuationOf(oldCode string) (string, bool) {
	for _, p := range e.Pairs {
		if p.Old == oldCode && p.Continues {
			return p.New, true
		}
	}
	return "", false
}

// PredecessorsOf returns the sorted old codes paired with a new code.
func (e ChangeEvent) PredecessorsOf(newCode string) []string {
	var out []string
	for _, p := range e.Pairs {
		if p.New == newCode {
			out = append(out, p.Old)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Normalize sorts the event's sets into canonical order, fills default
// pairs for unambiguous shapes and derives Kind. It does not validate.
func (e *ChangeEvent) Normalize() {
	slices.SortFunc(e.Old, func(a, b CodeRef) int { return strings.Compare(a.Code, b.Code) })
	slices.SortFunc(e.New, func(a, b CodeRef) int { return strings.Compare(a.Code, b.Code) })

	if len(e.Pairs) == 0 {
		switch {
		case len(e.Old) == 1 && len(e.New) == 1:
			e.Pairs = []CodePair{{Old: e.Old[0].Code, New: e.New[0].Code, Continues: true}}
		case len(e.Old) == 1 || len(e.New) == 1:
			for _, o := range e.Old {
				for _, n := range e.New {
					e.Pairs = append(e.Pairs, CodePair{Old: o.Code, New: n.Code})
				}
			}
		}
	}
	slices.SortFunc(e.Pairs, func(a, b CodePair) int {
		if c := strings.Compare(a.Old, b.Old); c != 0 {
			return c
		}
		return strings.Compare(a.New, b.New)
	})
	slices.SortFunc(e.Parents, func(a, b ParentAssignment) int { return strings.Compare(a.Code, b.Code) })
	slices.SortFunc(e.Children, func(a, b ParentAssignment) int { return strings.Compare(a.Code, b.Code) })
	e.Kind = e.deriveKind()
}

func (e ChangeEvent) deriveKind() ChangeKind {
	switch {
	case len(e.Old) == 1 && len(e.New) == 1:
		if e.Old[0].Code == e.New[0].Code && len(e.Parents) > 0 {
			return ChangeReparent
		}
		return ChangeRename
	case len(e.New) == 1:
		return ChangeMerge
	case len(e.Old) == 1:
		return ChangeSplit
	default:
		return ChangeRedistribute
	}
}

// Validate checks the structural invariants of a normalized event.
func (e ChangeEvent) Validate() error {
	if e.Dimension.IsZero() {
		return NewValidationError("dimension", "", "change event has no dimension")
	}
	if !e.Level.Valid() {
		return NewValidationError("level", fmt.Sprint(int(e.Level)), "invalid level")
	}
	if e.EffectiveDate.IsZero() {
		return NewValidationError("effective_date", "", "change event has no effective date")
	}
	if len(e.Old) == 0 || len(e.New) == 0 {
		return NewValidationError("codes", "", "change event needs at least one old and one new code")
	}
	oldSet, err := codeSet("old", e.Old)
	if err != nil {
		return err
	}
	newSet, err := codeSet("new", e.New)
	if err != nil {
		return err
	}
	if len(e.Pairs) == 0 {
		return NewValidationError("pairs", "", "redistribution needs explicit old-to-new pairs")
	}

	pairedOld := map[string]bool{}
	pairedNew := map[string]bool{}
	continuesFrom := map[string]string{}
	continuesInto := map[string]string{}
	for _, p := range e.Pairs {
		if !oldSet[p.Old] {
			return NewValidationError("pairs", p.Old, "pair references a code outside the old set")
		}
		if !newSet[p.New] {
			return NewValidationError("pairs", p.New, "pair references a code outside the new set")
		}
		pairedOld[p.Old] = true
		pairedNew[p.New] = true
		if !p.Continues {
			continue
		}
		if prev, ok := continuesFrom[p.Old]; ok {
			return NewValidationError("pairs", p.Old,
				fmt.Sprintf("old code continues into both %s and %s", prev, p.New))
		}
		if prev, ok := continuesInto[p.New]; ok {
			return NewValidationError("pairs", p.New,
				fmt.Sprintf("new code continues both %s and %s", prev, p.Old))
		}
		continuesFrom[p.Old] = p.New
		continuesInto[p.New] = p.Old
	}
	for code := range oldSet {
		if !pairedOld[code] {
			return NewValidationError("pairs", code, "old code has no pair")
		}
	}
	for code := range newSet {
		if !pairedNew[code] {
			return NewValidationError("pairs", code, "new code has no pair")
		}
	}

	if len(e.Old) == 1 && len(e.New) == 1 && e.Old[0].Code == e.New[0].Code &&
		len(e.Parents) == 0 && e.Old[0].Name == e.New[0].Name {
		return NewValidationError("codes", e.Old[0].Code, "change event changes nothing")
	}

	if len(e.Parents) > 0 && e.Level == LevelCounty {
		return NewValidationError("parents", "", "level 1 units have no parent")
	}
	for _, p := range e.Parents {
		if !newSet[p.Code] {
			return NewValidationError("parents", p.Code, "parent assignment for a code outside the new set")
		}
		if p.ParentCode == "" {
			return NewValidationError("parents", p.Code, "parent assignment without parent code")
		}
	}
	for _, c := range e.Children {
		if !newSet[c.ParentCode] {
			return NewValidationError("children", c.ParentCode, "child reassigned to a code outside the new set")
		}
	}
	return nil
}

func codeSet(field string, refs []CodeRef) (map[string]bool, error) {
	set := make(map[string]bool, len(refs))
	for _, r := range refs {
		if strings.TrimSpace(r.Code) == "" {
			return nil, NewValidationError(field, "", "empty code")
		}
		if set[r.Code] {
			return nil, NewValidationError(field, r.Code, "duplicate code")
		}
		set[r.Code] = true
	}
	return set, nil
}

func refCodes(refs []CodeRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Code)
	}
	slices.Sort(out)
	return out
}

func refName(refs []CodeRef, code string) string {
	for _, r := range refs {
		if r.Code == code {
			return r.Name
		}
	}
	return ""
}

// RawChange is one old-to-new record as published by a change source.
type RawChange struct {
	OldCode        string `json:"old_unit_code" csv:"old_code"`
	OldName        string `json:"old_unit_name" csv:"old_name"`
	NewCode        string `json:"new_unit_code" csv:"new_code"`
	NewName        string `json:"new_unit_name" csv:"new_name"`
	ChangeOccurred Date   `json:"unit_change_occurred" csv:"change_occurred"`
}

// ParentEntry is one parent with its children in a mapping.
type ParentEntry struct {
	Code     string    `json:"parent_code" yaml:"parent_code"`
	Name     string    `json:"parent_name" yaml:"parent_name"`
	Children []CodeRef `json:"children" yaml:"children"`
}

// ParentChildMapping is the published parent-to-children association of a
// dimension for one year. Level is the parent level. Once published for a
// (dimension, year, level) it is a fact of history and never changes.
type ParentChildMapping struct {
	Dimension     Dimension     `json:"dimension" yaml:"dimension"`
	Year          int           `json:"year" yaml:"year"`
	ReferenceDate Date          `json:"reference_date" yaml:"reference_date"`
	Level         Level         `json:"level" yaml:"level"`
	LevelTypeCode string        `json:"level_type_code,omitempty" yaml:"level_type_code,omitempty"`
	LevelTypeName string        `json:"level_type_name,omitempty" yaml:"level_type_name,omitempty"`
	Source        string        `json:"source,omitempty" yaml:"source,omitempty"`
	RetrievedAt   string        `json:"retrieved_at,omitempty" yaml:"retrieved_at,omitempty"`
	Parents       []ParentEntry `json:"unit_mappings" yaml:"unit_mappings"`
}

// Normalize sorts parents and children by code.
func (m *ParentChildMapping) Normalize() {
	if m.Level == 0 {
		m.Level = LevelCounty
	}
	slices.SortFunc(m.Parents, func(a, b ParentEntry) int { return strings.Compare(a.Code, b.Code) })
	for i := range m.Parents {
		slices.SortFunc(m.Parents[i].Children, func(a, b CodeRef) int { return strings.Compare(a.Code, b.Code) })
	}
}

// Validate checks that every child maps to exactly one parent.
func (m ParentChildMapping) Validate() error {
	if m.Dimension.IsZero() {
		return NewValidationError("dimension", "", "mapping has no dimension")
	}
	if m.ReferenceDate.IsZero() {
		return NewValidationError("reference_date", "", "mapping has no reference date")
	}
	if _, ok := m.Level.Child(); !ok || !m.Level.Valid() {
		return NewValidationError("level", fmt.Sprint(int(m.Level)), "mapping level must have a child level")
	}
	parents := map[string]bool{}
	children := map[string]string{}
	for _, p := range m.Parents {
		if strings.TrimSpace(p.Code) == "" {
			return NewValidationError("parent_code", "", "empty parent code")
		}
		if parents[p.Code] {
			return NewValidationError("parent_code", p.Code, "duplicate parent")
		}
		parents[p.Code] = true
		for _, c := range p.Children {
			if strings.TrimSpace(c.Code) == "" {
				return NewValidationError("children", p.Code, "empty child code")
			}
			if prev, ok := children[c.Code]; ok && prev != p.Code {
				return NewValidationError("children", c.Code,
					fmt.Sprintf("child mapped to both %s and %s", prev, p.Code))
			}
			children[c.Code] = p.Code
		}
	}
	return nil
}

// ParentOf returns the parent code of a child code in this mapping.
func (m ParentChildMapping) ParentOf(childCode string) (string, bool) {
	for _, p := range m.Parents {
		for _, c := range p.Children {
			if c.Code == childCode {
				return p.Code, true
			}
		}
	}
	return "", false
}

// Direction reports how a resolution reached its version.
type Direction string

const (
	DirectionExact    Direction = "exact"
	DirectionBackward Direction = "backward" // the code was held before the as-of date
	DirectionForward  Direction = "forward"  // the code is held after the as-of date
)

// Resolution is the outcome of resolving a code at a date.
type Resolution struct {
	UnitID    UnitID      `json:"unit_id"`
	Version   UnitVersion `json:"version"`
	Direction Direction   `json:"direction"`
	Hops      int         `json:"hops"`
}
