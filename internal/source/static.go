package source

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/atlas/internal/ir"
)

// StaticSource serves mappings, change records and results held in
// memory. It implements MappingSource, ChangeSource and ResultSource.
type StaticSource struct {
	mappings map[staticKey]ir.ParentChildMapping
	changes  map[staticKey][]ir.RawChange // year unused
	results  map[resultKey]ir.ElectionResult
}

type staticKey struct {
	dim   ir.Dimension
	level ir.Level
	year  int
}

type resultKey struct {
	staticKey
	code string
}

// NewStaticSource creates an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		mappings: map[staticKey]ir.ParentChildMapping{},
		changes:  map[staticKey][]ir.RawChange{},
		results:  map[resultKey]ir.ElectionResult{},
	}
}

// AddMapping registers a mapping under its dimension, level and year.
func (s *StaticSource) AddMapping(m ir.ParentChildMapping) *StaticSource {
	s.mappings[staticKey{dim: m.Dimension, level: m.Level, year: m.Year}] = m
	return s
}

// AddChanges registers change records of a level.
func (s *StaticSource) AddChanges(dim ir.Dimension, level ir.Level, raws ...ir.RawChange) *StaticSource {
	k := staticKey{dim: dim, level: level}
	s.changes[k] = append(s.changes[k], raws...)
	return s
}

// AddResult registers a result under its year and unit code.
func (s *StaticSource) AddResult(dim ir.Dimension, level ir.Level, r ir.ElectionResult) *StaticSource {
	s.results[resultKey{staticKey{dim: dim, level: level, year: r.Year}, r.UnitCode}] = r
	return s
}

// Mapping implements MappingSource.
func (s *StaticSource) Mapping(_ context.Context, dim ir.Dimension, level ir.Level, year int) (ir.ParentChildMapping, error) {
	m, ok := s.mappings[staticKey{dim: dim, level: level, year: year}]
	if !ok {
		return ir.ParentChildMapping{}, fmt.Errorf("%w: mapping %s level %d %d", ErrNotPublished, dim, level, year)
	}
	m.Parents = slices.Clone(m.Parents)
	return m, nil
}

// Changes implements ChangeSource.
func (s *StaticSource) Changes(_ context.Context, dim ir.Dimension, level ir.Level, from, to ir.Date) ([]ir.RawChange, error) {
	return filterWindow(s.changes[staticKey{dim: dim, level: level}], from, to), nil
}

// Result implements ResultSource.
func (s *StaticSource) Result(_ context.Context, dim ir.Dimension, level ir.Level, year int, code string) (ir.ElectionResult, error) {
	r, ok := s.results[resultKey{staticKey{dim: dim, level: level, year: year}, code}]
	if !ok {
		return ir.ElectionResult{}, fmt.Errorf("%w: result %s level %d %d %s", ErrNotPublished, dim, level, year, code)
	}
	r.Results = slices.Clone(r.Results)
	r.SeatDistribution = slices.Clone(r.SeatDistribution)
	return r, nil
}

func filterWindow(raws []ir.RawChange, from, to ir.Date) []ir.RawChange {
	out := []ir.RawChange{}
	for _, r := range raws {
		if r.ChangeOccurred.Before(from) || r.ChangeOccurred.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}
