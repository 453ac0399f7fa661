package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/atlas/internal/ir"
)

const eventColumns = `id, seq, payload`

// eventOrder is the replay order of a dimension's ledger.
// effective_date is stored as YYYY-MM-DD so text order is date order.
const eventOrder = `ORDER BY effective_date ASC, level ASC, seq ASC, id COLLATE BINARY ASC`

// HasEvent reports whether an event id is already in the ledger.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM change_events WHERE id = ?)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return exists == 1, nil
}

// ReadEvent retrieves a single change event by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEvent(ctx context.Context, id string) (ir.ChangeEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM change_events WHERE id = ?
	`, id)
	return scanEvent(row)
}

// ReadEvents returns the full ledger of a dimension in replay order.
func (s *Store) ReadEvents(ctx context.Context, dim ir.Dimension) ([]ir.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM change_events
		WHERE dimension = ?
		`+eventOrder, dim.String())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// ReadEventsBetween returns events with from <= effective_date <= to in
// replay order. A zero bound is open.
func (s *Store) ReadEventsBetween(ctx context.Context, dim ir.Dimension, from, to ir.Date) ([]ir.ChangeEvent, error) {
	lo, hi := "0000-01-01", "9999-12-31"
	if !from.IsZero() {
		lo = from.String()
	}
	if !to.IsZero() {
		hi = to.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM change_events
		WHERE dimension = ? AND effective_date >= ? AND effective_date <= ?
		`+eventOrder, dim.String(), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query events between: %w", err)
	}
	return collectEvents(rows)
}

// ReadMapping retrieves the mapping published for (dimension, year, level).
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadMapping(ctx context.Context, dim ir.Dimension, year int, level ir.Level) (ir.ParentChildMapping, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM mappings WHERE dimension = ? AND year = ? AND level = ?
	`, dim.String(), year, int(level)).Scan(&payload)
	if err != nil {
		return ir.ParentChildMapping{}, err
	}
	return unmarshalMapping(payload)
}

// ReadMappings returns every mapping of a dimension ordered by year, level.
func (s *Store) ReadMappings(ctx context.Context, dim ir.Dimension) ([]ir.ParentChildMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM mappings
		WHERE dimension = ?
		ORDER BY year ASC, level ASC
	`, dim.String())
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	mappings := []ir.ParentChildMapping{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m, err := unmarshalMapping(payload)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, nil
}

// ListDimensions returns every dimension with events or mappings,
// sorted alphabetically.
func (s *Store) ListDimensions(ctx context.Context) ([]ir.Dimension, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dimension FROM change_events
		UNION
		SELECT dimension FROM mappings
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query dimensions: %w", err)
	}
	defer rows.Close()

	dims := []ir.Dimension{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		d, err := ir.ParseDimension(s)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dimensions: %w", err)
	}
	return dims, nil
}

func collectEvents(rows *sql.Rows) ([]ir.ChangeEvent, error) {
	defer rows.Close()

	events := []ir.ChangeEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEvent scans id, seq and payload into a ChangeEvent.
func scanEvent(row scanner) (ir.ChangeEvent, error) {
	var id, payload string
	var seq int64
	if err := row.Scan(&id, &seq, &payload); err != nil {
		return ir.ChangeEvent{}, err
	}
	ev, err := unmarshalEvent(payload)
	if err != nil {
		return ir.ChangeEvent{}, err
	}
	ev.ID = id
	ev.Seq = seq
	return ev, nil
}
