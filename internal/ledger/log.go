package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/atlas/internal/ir"
)

// Log is the durable backend of a ledger. *store.Store implements it.
type Log interface {
	WriteEvent(ctx context.Context, ev ir.ChangeEvent) (bool, error)
	HasEvent(ctx context.Context, id string) (bool, error)
	ReadEvents(ctx context.Context, dim ir.Dimension) ([]ir.ChangeEvent, error)
	ReadEventsBetween(ctx context.Context, dim ir.Dimension, from, to ir.Date) ([]ir.ChangeEvent, error)
	LastEffectiveDate(ctx context.Context, dim ir.Dimension) (ir.Date, error)
	GetLastSeq(ctx context.Context) (int64, error)
	WriteMapping(ctx context.Context, m ir.ParentChildMapping) (bool, error)
	ReadMappings(ctx context.Context, dim ir.Dimension) ([]ir.ParentChildMapping, error)
}

// MemoryLog is an in-memory Log for tests and one-shot commands.
type MemoryLog struct {
	mu       sync.RWMutex
	events   map[string]ir.ChangeEvent
	mappings map[mappingKey]memoryMapping
}

type mappingKey struct {
	dim   ir.Dimension
	year  int
	level ir.Level
}

type memoryMapping struct {
	digest  string
	mapping ir.ParentChildMapping
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		events:   make(map[string]ir.ChangeEvent),
		mappings: make(map[mappingKey]memoryMapping),
	}
}

// WriteEvent stores an event unless its id is already present.
func (m *MemoryLog) WriteEvent(_ context.Context, ev ir.ChangeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; ok {
		return false, nil
	}
	m.events[ev.ID] = ev
	return true, nil
}

// HasEvent reports whether an event id is present.
func (m *MemoryLog) HasEvent(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[id]
	return ok, nil
}

// ReadEvents returns a dimension's events in replay order.
func (m *MemoryLog) ReadEvents(ctx context.Context, dim ir.Dimension) ([]ir.ChangeEvent, error) {
	return m.ReadEventsBetween(ctx, dim, ir.Date{}, ir.Date{})
}

// ReadEventsBetween returns events with from <= effective date <= to in
// replay order. A zero bound is open.
func (m *MemoryLog) ReadEventsBetween(_ context.Context, dim ir.Dimension, from, to ir.Date) ([]ir.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ir.ChangeEvent{}
	for _, ev := range m.events {
		if ev.Dimension != dim {
			continue
		}
		if !from.IsZero() && ev.EffectiveDate.Before(from) {
			continue
		}
		if !to.IsZero() && ev.EffectiveDate.After(to) {
			continue
		}
		out = append(out, ev)
	}
	SortReplayOrder(out)
	return out, nil
}

// LastEffectiveDate returns the latest effective date of a dimension.
func (m *MemoryLog) LastEffectiveDate(_ context.Context, dim ir.Dimension) (ir.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last ir.Date
	for _, ev := range m.events {
		if ev.Dimension == dim {
			last = ir.MaxDate(last, ev.EffectiveDate)
		}
	}
	return last, nil
}

// GetLastSeq returns the highest seq in the log.
func (m *MemoryLog) GetLastSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last int64
	for _, ev := range m.events {
		last = max(last, ev.Seq)
	}
	return last, nil
}

// WriteMapping publishes a mapping once per (dimension, year, level).
func (m *MemoryLog) WriteMapping(_ context.Context, mapping ir.ParentChildMapping) (bool, error) {
	mapping.Normalize()
	digest, err := ir.MappingDigest(mapping)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey{dim: mapping.Dimension, year: mapping.Year, level: mapping.Level}
	if existing, ok := m.mappings[key]; ok {
		if existing.digest == digest {
			return false, nil
		}
		return false, &ir.MappingConflictError{Dimension: mapping.Dimension, Year: mapping.Year, Level: mapping.Level}
	}
	m.mappings[key] = memoryMapping{digest: digest, mapping: mapping}
	return true, nil
}

// ReadMappings returns a dimension's mappings ordered by year, level.
func (m *MemoryLog) ReadMappings(_ context.Context, dim ir.Dimension) ([]ir.ParentChildMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ir.ParentChildMapping{}
	for key, mm := range m.mappings {
		if key.dim == dim {
			out = append(out, mm.mapping)
		}
	}
	slices.SortFunc(out, func(a, b ir.ParentChildMapping) int {
		if a.Year != b.Year {
			return a.Year - b.Year
		}
		return int(a.Level) - int(b.Level)
	})
	return out, nil
}

// SortReplayOrder sorts events by (effective date, level, seq, id).
func SortReplayOrder(events []ir.ChangeEvent) {
	slices.SortFunc(events, CompareReplayOrder)
}

// SortAppendOrder orders events that have not been appended yet: by
// effective date, then level. Events of one date and level keep their
// given order, except that an event releasing a code goes before one
// reusing it.
func SortAppendOrder(events []ir.ChangeEvent) {
	slices.SortStableFunc(events, func(a, b ir.ChangeEvent) int {
		if c := a.EffectiveDate.Compare(b.EffectiveDate); c != 0 {
			return c
		}
		return int(a.Level) - int(b.Level)
	})
	ir.OrderCodeReuse(events)
}

// CompareReplayOrder orders two events for replay.
func CompareReplayOrder(a, b ir.ChangeEvent) int {
	if c := a.EffectiveDate.Compare(b.EffectiveDate); c != 0 {
		return c
	}
	if a.Level != b.Level {
		return int(a.Level) - int(b.Level)
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
