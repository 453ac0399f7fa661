// Package source defines where mappings, change records and election
// results come from.
//
// A country plugs in through an Adapter: its taxonomy plus a MappingSource,
// a ChangeSource and optionally a ResultSource. The tracker itself never knows which statistics
// office it is talking to.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/taxonomy"
)

// MappingSource returns the published parent-child mapping of a dimension
// for a year, with level the parent level.
type MappingSource interface {
	Mapping(ctx context.Context, dim ir.Dimension, level ir.Level, year int) (ir.ParentChildMapping, error)
}

// ChangeSource returns the raw change records of a level published for
// changes effective in [from, to].
type ChangeSource interface {
	Changes(ctx context.Context, dim ir.Dimension, level ir.Level, from, to ir.Date) ([]ir.RawChange, error)
}

// ResultSource returns the election result a unit reported in year. code
// is the unit's code as the ledger knows it on election day.
type ResultSource interface {
	Result(ctx context.Context, dim ir.Dimension, level ir.Level, year int, code string) (ir.ElectionResult, error)
}

// Adapter bundles a country's taxonomy and sources.
type Adapter struct {
	Name     string // recorded as the Source of appended events
	Taxonomy *taxonomy.Taxonomy
	Mappings MappingSource
	Changes  ChangeSource
	Results  ResultSource // nil when the country publishes none
}

// Mapping fetches a mapping and stamps its dimension metadata.
func (a *Adapter) Mapping(ctx context.Context, dim ir.Dimension, level ir.Level, year int) (ir.ParentChildMapping, error) {
	d, err := a.Taxonomy.Dimension(dim)
	if err != nil {
		return ir.ParentChildMapping{}, err
	}
	m, err := a.Mappings.Mapping(ctx, dim, level, year)
	if err != nil {
		return ir.ParentChildMapping{}, fmt.Errorf("mapping %s %d: %w", dim, year, err)
	}
	m.Dimension = dim
	m.Year = year
	m.Level = level
	if m.ReferenceDate.IsZero() {
		m.ReferenceDate = a.Taxonomy.ReferenceDate(year)
	}
	if m.LevelTypeCode == "" {
		m.LevelTypeCode = d.LevelTypeCode
		m.LevelTypeName = d.LevelTypeName
	}
	m.Normalize()
	return m, nil
}

// ChangesFor returns the change records of a level in [from, to].
//
// When the taxonomy defines a transition for the window's year and level,
// the records are synthesised from the transition's source mapping instead
// of fetched: the upstream publishes nothing for such changes.
func (a *Adapter) ChangesFor(ctx context.Context, dim ir.Dimension, level ir.Level, from, to ir.Date) ([]ir.RawChange, error) {
	d, err := a.Taxonomy.Dimension(dim)
	if err != nil {
		return nil, err
	}
	if t, ok := d.Transition(to.Year(), level); ok && !t.Effective.Before(from) && !t.Effective.After(to) {
		return a.transitionChanges(ctx, d, t)
	}
	raws, err := a.Changes.Changes(ctx, dim, level, from, to)
	if err != nil {
		return nil, fmt.Errorf("changes %s level %d %s..%s: %w", dim, level, from, to, err)
	}
	return raws, nil
}

func (a *Adapter) transitionChanges(ctx context.Context, d *taxonomy.DimensionSpec, t taxonomy.Transition) ([]ir.RawChange, error) {
	if id, ok := d.Classification(t.Level, t.SourceYear); !ok || id != t.SourceClassification {
		return nil, fmt.Errorf("transition %s %d: level %d in %d is classification %d, not %d",
			d.Dimension, t.Year, t.Level, t.SourceYear, id, t.SourceClassification)
	}
	m, err := a.Mappings.Mapping(ctx, d.Dimension, t.Level, t.SourceYear)
	if err != nil {
		return nil, fmt.Errorf("transition %s %d: %w", d.Dimension, t.Year, err)
	}
	raws := make([]ir.RawChange, 0, len(m.Parents))
	for _, p := range m.Parents {
		code, name := t.Rename(p.Code, p.Name)
		raws = append(raws, ir.RawChange{
			OldCode:        p.Code,
			OldName:        p.Name,
			NewCode:        code,
			NewName:        name,
			ChangeOccurred: t.Effective,
		})
	}
	slog.Info("synthesised transition changes",
		"dimension", d.Dimension.String(),
		"year", t.Year,
		"level", int(t.Level),
		"records", len(raws),
	)
	return raws, nil
}

// ResultFor fetches a unit's election result and stamps the fields the
// tracker owns: year, code, election type and level code. Level 1 results
// carry the dimension's level type code, deeper levels their number.
func (a *Adapter) ResultFor(ctx context.Context, dim ir.Dimension, level ir.Level, year int, code string) (ir.ElectionResult, error) {
	d, err := a.Taxonomy.Dimension(dim)
	if err != nil {
		return ir.ElectionResult{}, err
	}
	if a.Results == nil {
		return ir.ElectionResult{}, fmt.Errorf("%w: %s has no result source", ErrNotPublished, a.Name)
	}
	r, err := a.Results.Result(ctx, dim, level, year, code)
	if err != nil {
		return ir.ElectionResult{}, fmt.Errorf("result %s %d %s: %w", dim, year, code, err)
	}
	r.Year = year
	r.UnitCode = code
	if r.ElectionType == "" {
		r.ElectionType = ir.ElectionParliamentary
	}
	r.LevelCode = fmt.Sprint(int(level))
	if level == ir.LevelCounty {
		r.LevelCode = d.LevelTypeCode
	}
	if err := r.Validate(); err != nil {
		return ir.ElectionResult{}, fmt.Errorf("result %s %d %s: %w", dim, year, code, err)
	}
	return r, nil
}
