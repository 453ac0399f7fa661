package store

import (
	"context"
	"fmt"

	"github.com/roach88/atlas/internal/ir"
)

// GetLastSeq returns the highest seq number used in the store.
// Used to resume the ledger's logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM change_events
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// LastEffectiveDate returns the latest effective date appended for a
// dimension, or the zero date when its ledger is empty.
func (s *Store) LastEffectiveDate(ctx context.Context, dim ir.Dimension) (ir.Date, error) {
	var last string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(effective_date), '') FROM change_events WHERE dimension = ?
	`, dim.String()).Scan(&last)
	if err != nil {
		return ir.Date{}, fmt.Errorf("last effective date: %w", err)
	}
	if last == "" {
		return ir.Date{}, nil
	}
	return ir.ParseDate(last)
}
