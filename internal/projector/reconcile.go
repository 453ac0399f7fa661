package projector

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/atlas/internal/ir"
)

// Discrepancy is one difference between a published mapping and the
// projection at its reference date. For reparented codes Expected and
// Projected are parent codes; for renamed codes they are names.
type Discrepancy struct {
	Level     ir.Level `json:"level"`
	Code      string   `json:"code"`
	Expected  string   `json:"expected,omitempty"`
	Projected string   `json:"projected,omitempty"`
}

// Reconciliation compares a published mapping with the projection.
type Reconciliation struct {
	Dimension  ir.Dimension  `json:"dimension"`
	Year       int           `json:"year"`
	AsOf       ir.Date       `json:"as_of"`
	Missing    []Discrepancy `json:"missing"`    // published, not projected
	Unexpected []Discrepancy `json:"unexpected"` // projected, not published
	Reparented []Discrepancy `json:"reparented"`
	Renamed    []Discrepancy `json:"renamed"`
}

// Consistent reports whether the projection matches the mapping on codes
// and parents. Name differences alone do not count.
func (r *Reconciliation) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && len(r.Reparented) == 0
}

// Reconcile projects the dimension at the mapping's reference date and
// reports where the two disagree. A clean reconciliation is evidence the
// ledger holds every change between the base and the mapping's year.
func (p *Projector) Reconcile(ctx context.Context, m ir.ParentChildMapping) (*Reconciliation, error) {
	if m.Dimension != p.src.Dimension() {
		return nil, ir.NewValidationError("dimension", m.Dimension.String(),
			fmt.Sprintf("mapping does not belong to %s", p.src.Dimension()))
	}
	child, ok := m.Level.Child()
	if !ok {
		return nil, ir.NewValidationError("level", m.Level.String(), "mapping level has no children")
	}
	st, err := p.Replay(ctx, m.ReferenceDate)
	if err != nil {
		return nil, fmt.Errorf("reconcile %d: %w", m.Year, err)
	}

	r := &Reconciliation{
		Dimension:  m.Dimension,
		Year:       m.Year,
		AsOf:       m.ReferenceDate,
		Missing:    []Discrepancy{},
		Unexpected: []Discrepancy{},
		Reparented: []Discrepancy{},
		Renamed:    []Discrepancy{},
	}

	published := map[ir.Level]map[string]string{m.Level: {}, child: {}}
	parentOf := map[string]string{}
	for _, pe := range m.Parents {
		published[m.Level][pe.Code] = pe.Name
		for _, c := range pe.Children {
			published[child][c.Code] = c.Name
			parentOf[c.Code] = pe.Code
		}
	}

	for _, level := range []ir.Level{m.Level, child} {
		for _, code := range sortedKeys(published[level]) {
			id, ok := st.lookup(level, code)
			if !ok {
				r.Missing = append(r.Missing, Discrepancy{Level: level, Code: code})
				continue
			}
			v, _ := st.current(id)
			if want := published[level][code]; want != "" && !sameText(want, v.Name) {
				r.Renamed = append(r.Renamed, Discrepancy{Level: level, Code: code, Expected: want, Projected: v.Name})
			}
			if level == child {
				if got := st.codeOf(v.ParentID); v.ParentID == "" || got != parentOf[code] {
					r.Reparented = append(r.Reparented, Discrepancy{Level: level, Code: code, Expected: parentOf[code], Projected: got})
				}
			}
		}
		for _, code := range sortedKeys(st.active[level]) {
			if _, ok := published[level][code]; !ok {
				r.Unexpected = append(r.Unexpected, Discrepancy{Level: level, Code: code})
			}
		}
	}
	slices.SortStableFunc(r.Reparented, compareDiscrepancy)
	return r, nil
}

func compareDiscrepancy(a, b Discrepancy) int {
	if a.Level != b.Level {
		return int(a.Level) - int(b.Level)
	}
	return strings.Compare(a.Code, b.Code)
}

func sameText(a, b string) bool {
	return norm.NFC.String(strings.TrimSpace(a)) == norm.NFC.String(strings.TrimSpace(b))
}
