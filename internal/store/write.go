package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/atlas/internal/ir"
)

// WriteEvent inserts a change event into the ledger table.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-polled events with
// the same content-addressed id are silently ignored and inserted is false.
//
// The event must carry its id and the seq stamped by the ledger clock.
func (s *Store) WriteEvent(ctx context.Context, ev ir.ChangeEvent) (inserted bool, err error) {
	if ev.ID == "" {
		return false, fmt.Errorf("write event: missing id")
	}
	payload, err := marshalPayload(ev)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO change_events
		(id, dimension, level, effective_date, seq, kind, payload, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.Dimension.String(),
		int(ev.Level),
		ev.EffectiveDate.String(),
		ev.Seq,
		string(ev.Kind),
		payload,
		ev.Source,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}
	return rows > 0, nil
}

// WriteMapping publishes a parent-child mapping.
//
// A mapping is written once per (dimension, year, level). Republishing
// content with the same digest is a no-op (inserted=false); different
// content returns *ir.MappingConflictError and leaves the stored row alone.
func (s *Store) WriteMapping(ctx context.Context, m ir.ParentChildMapping) (inserted bool, err error) {
	m.Normalize()
	digest, err := ir.MappingDigest(m)
	if err != nil {
		return false, fmt.Errorf("write mapping: %w", err)
	}
	payload, err := marshalPayload(m)
	if err != nil {
		return false, fmt.Errorf("write mapping: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write mapping: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT digest FROM mappings WHERE dimension = ? AND year = ? AND level = ?
	`, m.Dimension.String(), m.Year, int(m.Level)).Scan(&existing)
	switch {
	case err == nil:
		if existing == digest {
			return false, nil
		}
		return false, &ir.MappingConflictError{Dimension: m.Dimension, Year: m.Year, Level: m.Level}
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("write mapping: lookup: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mappings
		(dimension, year, level, reference_date, digest, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		m.Dimension.String(),
		m.Year,
		int(m.Level),
		m.ReferenceDate.String(),
		digest,
		payload,
	)
	if err != nil {
		return false, fmt.Errorf("write mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write mapping: commit: %w", err)
	}
	return true, nil
}
