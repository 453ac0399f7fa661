package ledger

import "sync/atomic"

// Clock is the monotonic logical clock that stamps appended events.
//
// Seq records append order only. Replay order is (effective date, level,
// seq), so seq breaks ties between events effective on the same date at
// the same level and never depends on wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The ledger's single-writer design means only one goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume from the last sequence persisted in the log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
