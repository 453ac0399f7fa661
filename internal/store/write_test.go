package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/atlas/internal/ir"
)

func TestWriteEvent_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := createTestEvent(t, "nor/1b", "12", "v12", "2020-01-01", ir.LevelCounty, 1)
	ev.Source = "transition"

	inserted, err := s.WriteEvent(ctx, ev)
	if err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if !inserted {
		t.Error("first write should insert")
	}

	var dim, date, kind, source string
	var level int
	var seq int64
	err = s.db.QueryRow(`
		SELECT dimension, level, effective_date, seq, kind, source
		FROM change_events WHERE id = ?
	`, ev.ID).Scan(&dim, &level, &date, &seq, &kind, &source)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if dim != "nor/1b" {
		t.Errorf("dimension = %q, want nor/1b", dim)
	}
	if level != 1 {
		t.Errorf("level = %d, want 1", level)
	}
	if date != "2020-01-01" {
		t.Errorf("effective_date = %q, want 2020-01-01", date)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if kind != "rename" {
		t.Errorf("kind = %q, want rename", kind)
	}
	if source != "transition" {
		t.Errorf("source = %q, want transition", source)
	}
}

func TestWriteEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := createTestEvent(t, "nor/1a", "16", "50", "2018-01-01", ir.LevelCounty, 1)
	if _, err := s.WriteEvent(ctx, ev); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	// Re-poll of the same transition: same id, different seq.
	ev.Seq = 2
	inserted, err := s.WriteEvent(ctx, ev)
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if inserted {
		t.Error("duplicate id should not insert")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM change_events`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestWriteEvent_RequiresID(t *testing.T) {
	s := createTestStore(t)
	ev := createTestEvent(t, "nor/1a", "16", "50", "2018-01-01", ir.LevelCounty, 1)
	ev.ID = ""
	if _, err := s.WriteEvent(context.Background(), ev); err == nil {
		t.Error("expected error for event without id")
	}
}

func TestWriteMapping_PublishOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := createTestMapping(2019)
	inserted, err := s.WriteMapping(ctx, m)
	if err != nil {
		t.Fatalf("WriteMapping() failed: %v", err)
	}
	if !inserted {
		t.Error("first publish should insert")
	}

	// Identical content with different provenance is a no-op.
	m.RetrievedAt = "2030-01-01T00:00:00Z"
	inserted, err = s.WriteMapping(ctx, m)
	if err != nil {
		t.Fatalf("republish failed: %v", err)
	}
	if inserted {
		t.Error("identical republish should not insert")
	}
}

func TestWriteMapping_ConflictingContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteMapping(ctx, createTestMapping(2019)); err != nil {
		t.Fatalf("WriteMapping() failed: %v", err)
	}

	changed := createTestMapping(2019)
	changed.Parents[0].Children = changed.Parents[0].Children[:1]
	_, err := s.WriteMapping(ctx, changed)

	var conflict *ir.MappingConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want MappingConflictError", err)
	}
	if conflict.Year != 2019 {
		t.Errorf("conflict year = %d, want 2019", conflict.Year)
	}

	stored, err := s.ReadMapping(ctx, ir.MustDimension("nor/1a"), 2019, ir.LevelCounty)
	if err != nil {
		t.Fatalf("ReadMapping() failed: %v", err)
	}
	if got := len(stored.Parents[1].Children); got != 2 {
		t.Errorf("stored mapping was modified: %d children under 12, want 2", got)
	}
}
