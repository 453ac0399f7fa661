package projector

import (
	"slices"

	"github.com/roach88/atlas/internal/ir"
)

// Snapshot is the projection of a dimension on one date.
type Snapshot struct {
	Dimension    ir.Dimension     `json:"dimension"`
	AsOf         ir.Date          `json:"as_of"`
	Head         string           `json:"head,omitempty"`
	Versions     []ir.UnitVersion `json:"versions"`
	Constituents []Constituent    `json:"constituents"`
}

// Constituent lists the children a parent unit had.
type Constituent struct {
	ParentID   ir.UnitID `json:"parent_id"`
	ParentCode string    `json:"parent_code"`
	Level      ir.Level  `json:"level"`
	Children   []Member  `json:"children"`
}

// Member is a child unit inside a Constituent.
type Member struct {
	UnitID ir.UnitID `json:"unit_id"`
	Code   string    `json:"code"`
	Name   string    `json:"name"`
}

// Codes returns the children's codes.
func (c Constituent) Codes() []string {
	out := make([]string, len(c.Children))
	for i, m := range c.Children {
		out[i] = m.Code
	}
	return out
}

// Version returns the active version holding code at level.
func (s *Snapshot) Version(level ir.Level, code string) (ir.UnitVersion, bool) {
	for _, v := range s.Versions {
		if v.Level == level && v.Code == code {
			return v, true
		}
	}
	return ir.UnitVersion{}, false
}

// Constituent returns the children of the parent holding code at level.
func (s *Snapshot) Constituent(level ir.Level, code string) (Constituent, bool) {
	for _, c := range s.Constituents {
		if c.Level == level && c.ParentCode == code {
			return c, true
		}
	}
	return Constituent{}, false
}

// Canonical renders the snapshot as canonical JSON. Equal ledgers render
// byte-identical output.
func (s *Snapshot) Canonical() ([]byte, error) {
	versions := make([]any, 0, len(s.Versions))
	for _, v := range s.Versions {
		versions = append(versions, versionObject(v))
	}
	constituents := make([]any, 0, len(s.Constituents))
	for _, c := range s.Constituents {
		children := make([]any, 0, len(c.Children))
		for _, m := range c.Children {
			children = append(children, map[string]any{
				"unit_id": m.UnitID,
				"code":    m.Code,
				"name":    m.Name,
			})
		}
		constituents = append(constituents, map[string]any{
			"parent_id":   c.ParentID,
			"parent_code": c.ParentCode,
			"level":       c.Level,
			"children":    children,
		})
	}
	obj := map[string]any{
		"dimension":    s.Dimension,
		"as_of":        s.AsOf,
		"versions":     versions,
		"constituents": constituents,
	}
	if s.Head != "" {
		obj["head"] = s.Head
	}
	return ir.MarshalCanonical(obj)
}

// versionObject mirrors the JSON encoding of ir.UnitVersion.
func versionObject(v ir.UnitVersion) map[string]any {
	obj := map[string]any{
		"unit_id":    v.UnitID,
		"level":      v.Level,
		"code":       v.Code,
		"name":       v.Name,
		"valid_from": v.ValidFrom,
	}
	if v.ParentID != "" {
		obj["parent_id"] = v.ParentID
	}
	if v.ValidTo != nil {
		obj["valid_to"] = *v.ValidTo
	}
	if v.OpenedBy != "" {
		obj["opened_by"] = v.OpenedBy
	}
	if v.ClosedBy != "" {
		obj["closed_by"] = v.ClosedBy
	}
	return obj
}

// Snapshot renders the state's active versions on asOf.
func (s *State) Snapshot(asOf ir.Date) *Snapshot {
	snap := &Snapshot{
		Dimension:    s.dim,
		AsOf:         asOf,
		Versions:     s.activeAt(asOf),
		Constituents: []Constituent{},
	}
	if snap.Versions == nil {
		snap.Versions = []ir.UnitVersion{}
	}
	for _, v := range snap.Versions {
		child, ok := v.Level.Child()
		if !ok || len(s.active[child]) == 0 {
			continue
		}
		if !v.IsOpen() {
			// Only the open versions are wired to children.
			continue
		}
		snap.Constituents = append(snap.Constituents, s.constituent(v.UnitID))
	}
	return snap
}

func (s *State) constituent(id ir.UnitID) Constituent {
	v, _ := s.current(id)
	c := Constituent{ParentID: id, ParentCode: v.Code, Level: v.Level, Children: []Member{}}
	for _, child := range s.childrenOf(id, v.Level) {
		c.Children = append(c.Children, Member{UnitID: child.UnitID, Code: child.Code, Name: child.Name})
	}
	return c
}

// Timeline is a full replay: every unit and version the ledger produced,
// and the lineage between identities. It is the resolver's input and is
// never modified after construction.
type Timeline struct {
	Dimension ir.Dimension                   `json:"dimension"`
	Base      ir.Date                        `json:"base"`
	Last      ir.Date                        `json:"last"`
	Units     []ir.AdministrativeUnit        `json:"units"`
	Versions  map[ir.UnitID][]ir.UnitVersion `json:"versions"`
	Lineage   []Edge                         `json:"lineage"`
}

// Timeline renders the state as a Timeline.
func (s *State) Timeline() *Timeline {
	tl := &Timeline{
		Dimension: s.dim,
		Base:      s.base,
		Last:      s.position,
		Units:     make([]ir.AdministrativeUnit, 0, len(s.order)),
		Versions:  make(map[ir.UnitID][]ir.UnitVersion, len(s.order)),
		Lineage:   slices.Clone(s.lineage),
	}
	for _, id := range s.order {
		u := s.units[id]
		unit := u.unit
		unit.Codes = slices.Clone(u.unit.Codes)
		tl.Units = append(tl.Units, unit)
		tl.Versions[id] = slices.Clone(u.versions)
	}
	return tl
}

// Unit returns a unit by id.
func (t *Timeline) Unit(id ir.UnitID) (ir.AdministrativeUnit, bool) {
	for _, u := range t.Units {
		if u.ID == id {
			return u, true
		}
	}
	return ir.AdministrativeUnit{}, false
}

// Holders returns every version, of any unit, that held code at level,
// ordered by valid-from date.
func (t *Timeline) Holders(level ir.Level, code string) []ir.UnitVersion {
	var out []ir.UnitVersion
	for _, u := range t.Units {
		if u.Level != level || !slices.Contains(u.Codes, code) {
			continue
		}
		for _, v := range t.Versions[u.ID] {
			if v.Code == code {
				out = append(out, v)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b ir.UnitVersion) int { return a.ValidFrom.Compare(b.ValidFrom) })
	return out
}
