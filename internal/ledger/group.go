package ledger

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/atlas/internal/ir"
)

// GroupChanges turns raw old-to-new change records into change events.
//
// Records are grouped by effective date and then by connected component
// of the bipartite old/new code graph, so a merge reported as N records
// becomes one N->1 event carrying all pairs. Within a component a pair
// continues the old unit's identity when:
//   - the component is a single 1->1 record (a rename), or
//   - old and new code are equal, or
//   - old and new names are equal after NFC normalization and case folding.
//
// At most one pair continues per old code and per new code; the first
// qualifying pair in (old, new) order wins. Exact duplicate records are
// dropped, as are lone records that change neither code nor name.
//
// Events come back in append order: by date, then by first old code,
// except that an event releasing a code precedes a same-day event that
// reuses it.
func GroupChanges(dim ir.Dimension, level ir.Level, raws []ir.RawChange) ([]ir.ChangeEvent, error) {
	byDate := map[ir.Date][]ir.RawChange{}
	var dates []ir.Date
	seen := map[ir.RawChange]bool{}
	for i, r := range raws {
		if r.ChangeOccurred.IsZero() {
			return nil, ir.NewValidationError("change_occurred", "",
				fmt.Sprintf("change record %d (%s -> %s) has no date", i, r.OldCode, r.NewCode))
		}
		if strings.TrimSpace(r.OldCode) == "" || strings.TrimSpace(r.NewCode) == "" {
			return nil, ir.NewValidationError("code", "",
				fmt.Sprintf("change record %d has an empty code", i))
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		if _, ok := byDate[r.ChangeOccurred]; !ok {
			dates = append(dates, r.ChangeOccurred)
		}
		byDate[r.ChangeOccurred] = append(byDate[r.ChangeOccurred], r)
	}
	slices.SortFunc(dates, ir.Date.Compare)

	var events []ir.ChangeEvent
	for _, d := range dates {
		for _, component := range components(byDate[d]) {
			if len(component) == 1 && isNoOp(component[0]) {
				continue
			}
			ev := buildEvent(dim, level, d, component)
			if err := ev.Validate(); err != nil {
				return nil, fmt.Errorf("group changes on %s: %w", d, err)
			}
			events = append(events, ev)
		}
	}
	ir.OrderCodeReuse(events)
	return events, nil
}

// components partitions records into connected components of the
// old/new graph, each sorted by (old, new), ordered by first old code.
func components(records []ir.RawChange) [][]ir.RawChange {
	uf := newUnionFind()
	for _, r := range records {
		uf.union("o:"+r.OldCode, "n:"+r.NewCode)
	}

	groups := map[string][]ir.RawChange{}
	for _, r := range records {
		root := uf.find("o:" + r.OldCode)
		groups[root] = append(groups[root], r)
	}

	out := make([][]ir.RawChange, 0, len(groups))
	for _, g := range groups {
		slices.SortFunc(g, compareRaw)
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b []ir.RawChange) int { return compareRaw(a[0], b[0]) })
	return out
}

func compareRaw(a, b ir.RawChange) int {
	if c := strings.Compare(a.OldCode, b.OldCode); c != 0 {
		return c
	}
	return strings.Compare(a.NewCode, b.NewCode)
}

func buildEvent(dim ir.Dimension, level ir.Level, d ir.Date, records []ir.RawChange) ir.ChangeEvent {
	ev := ir.ChangeEvent{Dimension: dim, Level: level, EffectiveDate: d}

	oldSeen := map[string]bool{}
	newSeen := map[string]bool{}
	for _, r := range records {
		if !oldSeen[r.OldCode] {
			oldSeen[r.OldCode] = true
			ev.Old = append(ev.Old, ir.CodeRef{Code: r.OldCode, Name: r.OldName})
		}
		if !newSeen[r.NewCode] {
			newSeen[r.NewCode] = true
			ev.New = append(ev.New, ir.CodeRef{Code: r.NewCode, Name: r.NewName})
		}
	}

	rename := len(records) == 1
	continuedOld := map[string]bool{}
	continuedNew := map[string]bool{}
	pairSeen := map[[2]string]bool{}
	for _, r := range records {
		key := [2]string{r.OldCode, r.NewCode}
		if pairSeen[key] {
			continue
		}
		pairSeen[key] = true
		p := ir.CodePair{Old: r.OldCode, New: r.NewCode}
		if !continuedOld[r.OldCode] && !continuedNew[r.NewCode] &&
			(rename || r.OldCode == r.NewCode || sameName(r.OldName, r.NewName)) {
			p.Continues = true
			continuedOld[r.OldCode] = true
			continuedNew[r.NewCode] = true
		}
		ev.Pairs = append(ev.Pairs, p)
	}

	ev.Normalize()
	return ev
}

// isNoOp reports whether a record changes neither code nor name.
func isNoOp(r ir.RawChange) bool {
	return r.OldCode == r.NewCode && norm.NFC.String(r.OldName) == norm.NFC.String(r.NewName)
}

// sameName compares unit names after NFC normalization and case folding.
func sameName(a, b string) bool {
	fold := cases.Fold() // a Caser is stateful; never share one
	fa := fold.String(norm.NFC.String(strings.TrimSpace(a)))
	fb := fold.String(norm.NFC.String(strings.TrimSpace(b)))
	return fa != "" && fa == fb
}

// unionFind is a minimal disjoint-set over string keys.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Deterministic root: the smaller key wins.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
