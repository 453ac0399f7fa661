package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/atlas/internal/ir"
)

// PublishMapping records a published parent-child mapping.
//
// Mappings are facts of history: republishing the same content is a no-op
// (published=false) and different content for the same (year, level) fails
// with *ir.MappingConflictError. A mapping may not predate the base once
// events have been appended, because it would become a new base under them.
func (l *Ledger) PublishMapping(ctx context.Context, m ir.ParentChildMapping) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.Dimension.IsZero() {
		m.Dimension = l.dim
	}
	if m.Dimension != l.dim {
		return false, ir.NewValidationError("dimension", m.Dimension.String(),
			fmt.Sprintf("mapping does not belong to ledger %s", l.dim))
	}
	m.Normalize()
	if err := m.Validate(); err != nil {
		return false, err
	}
	if err := l.validateMappingCodes(m); err != nil {
		return false, err
	}

	base, ok, err := l.baseDate(ctx)
	if err != nil {
		return false, err
	}
	if ok && m.ReferenceDate.Before(base) {
		last, err := l.log.LastEffectiveDate(ctx, l.dim)
		if err != nil {
			return false, fmt.Errorf("publish mapping: %w", err)
		}
		if !last.IsZero() {
			return false, ir.NewValidationError("reference_date", m.ReferenceDate.String(),
				fmt.Sprintf("mapping predates base %s of a non-empty ledger", base))
		}
	}

	published, err := l.log.WriteMapping(ctx, m)
	if err != nil {
		return false, fmt.Errorf("publish mapping %s %d: %w", l.dim, m.Year, err)
	}
	if published {
		slog.Info("mapping published",
			"dimension", l.dim.String(),
			"year", m.Year,
			"level", int(m.Level),
			"parents", len(m.Parents),
		)
	}
	return published, nil
}

func (l *Ledger) validateMappingCodes(m ir.ParentChildMapping) error {
	if l.codes == nil {
		return nil
	}
	child, _ := m.Level.Child()
	for _, p := range m.Parents {
		if err := l.codes.ValidateCode(l.dim, m.Level, p.Code); err != nil {
			return err
		}
		for _, c := range p.Children {
			if err := l.codes.ValidateCode(l.dim, child, c.Code); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mappings returns every published mapping ordered by year, level.
func (l *Ledger) Mappings(ctx context.Context) ([]ir.ParentChildMapping, error) {
	ms, err := l.log.ReadMappings(ctx, l.dim)
	if err != nil {
		return nil, fmt.Errorf("mappings %s: %w", l.dim, err)
	}
	return ms, nil
}

// Mapping returns the mapping published for (year, level).
func (l *Ledger) Mapping(ctx context.Context, year int, level ir.Level) (ir.ParentChildMapping, bool, error) {
	ms, err := l.Mappings(ctx)
	if err != nil {
		return ir.ParentChildMapping{}, false, err
	}
	for _, m := range ms {
		if m.Year == year && m.Level == level {
			return m, true, nil
		}
	}
	return ir.ParentChildMapping{}, false, nil
}

// Base returns the base mappings: every mapping of the earliest published
// year, ordered by level. The base anchors the projection.
func (l *Ledger) Base(ctx context.Context) ([]ir.ParentChildMapping, error) {
	ms, err := l.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, nil
	}
	year := ms[0].Year
	var base []ir.ParentChildMapping
	for _, m := range ms {
		if m.Year == year {
			base = append(base, m)
		}
	}
	return base, nil
}

// BaseDate returns the reference date of the base mapping.
// ok is false when nothing has been published yet.
func (l *Ledger) BaseDate(ctx context.Context) (ir.Date, bool, error) {
	return l.baseDate(ctx)
}

func (l *Ledger) baseDate(ctx context.Context) (ir.Date, bool, error) {
	base, err := l.Base(ctx)
	if err != nil {
		return ir.Date{}, false, err
	}
	if len(base) == 0 {
		return ir.Date{}, false, nil
	}
	d := base[0].ReferenceDate
	for _, m := range base[1:] {
		d = ir.MinDate(d, m.ReferenceDate)
	}
	return d, true, nil
}
