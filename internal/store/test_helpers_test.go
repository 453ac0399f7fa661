package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/atlas/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates a normalized, id-stamped rename event.
func createTestEvent(t *testing.T, dim, oldCode, newCode, date string, level ir.Level, seq int64) ir.ChangeEvent {
	t.Helper()
	ev := ir.ChangeEvent{
		Dimension:     ir.MustDimension(dim),
		Level:         level,
		EffectiveDate: ir.MustDate(date),
		Old:           []ir.CodeRef{{Code: oldCode, Name: "Old " + oldCode}},
		New:           []ir.CodeRef{{Code: newCode, Name: "New " + newCode}},
		Seq:           seq,
	}
	ev.Normalize()
	ev.ID = ir.MustEventID(ev)
	return ev
}

// createTestMapping creates a small level-1 mapping.
func createTestMapping(year int) ir.ParentChildMapping {
	return ir.ParentChildMapping{
		Dimension:     ir.MustDimension("nor/1a"),
		Year:          year,
		ReferenceDate: ir.NewDate(year, 4, 1),
		Level:         ir.LevelCounty,
		Parents: []ir.ParentEntry{
			{Code: "12", Name: "Hordaland", Children: []ir.CodeRef{{Code: "1201", Name: "Bergen"}, {Code: "1202", Name: "Voss"}}},
			{Code: "03", Name: "Oslo", Children: []ir.CodeRef{{Code: "0301", Name: "Oslo"}}},
		},
	}
}
