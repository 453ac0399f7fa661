package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/atlas/internal/ir"
)

func TestReadEvents_ReplayOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Appended out of replay order on purpose: a level 2 event and a level 1
	// event on the same date, plus an earlier date appended last.
	events := []ir.ChangeEvent{
		createTestEvent(t, "nor/1a", "1201", "4601", "2020-01-01", ir.LevelMunicipality, 1),
		createTestEvent(t, "nor/1a", "12", "46", "2020-01-01", ir.LevelCounty, 2),
		createTestEvent(t, "nor/1a", "16", "50", "2018-01-01", ir.LevelCounty, 3),
		createTestEvent(t, "nor/1b", "12", "v12", "2020-01-01", ir.LevelCounty, 4),
	}
	for _, ev := range events {
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	got, err := s.ReadEvents(ctx, ir.MustDimension("nor/1a"))
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	wantSeq := []int64{3, 2, 1}
	for i, ev := range got {
		if ev.Seq != wantSeq[i] {
			t.Errorf("event[%d].Seq = %d, want %d", i, ev.Seq, wantSeq[i])
		}
	}
	if got[1].ID != events[1].ID {
		t.Errorf("event[1].ID = %s, want %s", got[1].ID, events[1].ID)
	}
	if got[1].NewName("46") != "New 46" {
		t.Errorf("payload name not round-tripped: %q", got[1].NewName("46"))
	}
}

func TestReadEvents_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ReadEvents(context.Background(), ir.MustDimension("nor/1a"))
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestReadEventsBetween_InclusiveBounds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, date := range []string{"2018-01-01", "2020-01-01", "2024-01-01"} {
		ev := createTestEvent(t, "nor/1a", "a"+date, "b"+date, date, ir.LevelCounty, int64(i+1))
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	dim := ir.MustDimension("nor/1a")
	got, err := s.ReadEventsBetween(ctx, dim, ir.MustDate("2020-01-01"), ir.MustDate("2024-01-01"))
	if err != nil {
		t.Fatalf("ReadEventsBetween() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	got, err = s.ReadEventsBetween(ctx, dim, ir.Date{}, ir.MustDate("2019-12-31"))
	if err != nil {
		t.Fatalf("ReadEventsBetween() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("open lower bound: len = %d, want 1", len(got))
	}
}

func TestReadEvent_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadEvent(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestHasEvent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ev := createTestEvent(t, "nor/1a", "16", "50", "2018-01-01", ir.LevelCounty, 1)

	has, err := s.HasEvent(ctx, ev.ID)
	if err != nil || has {
		t.Fatalf("HasEvent() before write = %v, %v", has, err)
	}
	if _, err := s.WriteEvent(ctx, ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	has, err = s.HasEvent(ctx, ev.ID)
	if err != nil || !has {
		t.Fatalf("HasEvent() after write = %v, %v", has, err)
	}
}

func TestReadMappings_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, year := range []int{2024, 2019} {
		if _, err := s.WriteMapping(ctx, createTestMapping(year)); err != nil {
			t.Fatalf("WriteMapping() failed: %v", err)
		}
	}

	got, err := s.ReadMappings(ctx, ir.MustDimension("nor/1a"))
	if err != nil {
		t.Fatalf("ReadMappings() failed: %v", err)
	}
	if len(got) != 2 || got[0].Year != 2019 || got[1].Year != 2024 {
		t.Fatalf("mappings not ordered by year: %+v", got)
	}
	if !got[0].ReferenceDate.Equal(ir.MustDate("2019-04-01")) {
		t.Errorf("reference date = %s", got[0].ReferenceDate)
	}
	// Normalized on write: parents sorted by code.
	if got[0].Parents[0].Code != "03" {
		t.Errorf("first parent = %s, want 03", got[0].Parents[0].Code)
	}

	_, err = s.ReadMapping(ctx, ir.MustDimension("nor/1b"), 2019, ir.LevelCounty)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListDimensions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteMapping(ctx, createTestMapping(2019)); err != nil {
		t.Fatalf("WriteMapping() failed: %v", err)
	}
	ev := createTestEvent(t, "nor/1b", "12", "v12", "2020-01-01", ir.LevelCounty, 1)
	if _, err := s.WriteEvent(ctx, ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	dims, err := s.ListDimensions(ctx)
	if err != nil {
		t.Fatalf("ListDimensions() failed: %v", err)
	}
	if len(dims) != 2 || dims[0].String() != "nor/1a" || dims[1].String() != "nor/1b" {
		t.Errorf("dims = %v", dims)
	}
}

func TestLastSeqAndDate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	dim := ir.MustDimension("nor/1a")

	last, err := s.LastEffectiveDate(ctx, dim)
	if err != nil {
		t.Fatalf("LastEffectiveDate() failed: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("empty ledger last date = %s, want zero", last)
	}

	for i, date := range []string{"2018-01-01", "2020-01-01"} {
		ev := createTestEvent(t, "nor/1a", "x"+date, "y"+date, date, ir.LevelCounty, int64(i+5))
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	seq, err := s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 6 {
		t.Errorf("last seq = %d, want 6", seq)
	}
	last, err = s.LastEffectiveDate(ctx, dim)
	if err != nil {
		t.Fatalf("LastEffectiveDate() failed: %v", err)
	}
	if last.String() != "2020-01-01" {
		t.Errorf("last date = %s, want 2020-01-01", last)
	}
}
