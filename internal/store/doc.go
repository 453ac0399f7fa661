// Package store provides SQLite-backed durable storage for Atlas ledgers.
//
// The store holds two append-only tables:
//   - change_events: the change event ledger of every dimension
//   - mappings: published parent-child mappings, immutable once written
//
// # Critical Patterns
//
// Idempotent appends
//   - change_events.id is content-addressed (ir.EventID)
//   - INSERT ... ON CONFLICT(id) DO NOTHING makes re-polling a no-op
//
// Immutable mappings
//   - (dimension, year, level) is written once; the stored digest is
//     compared on republish and a different digest is a MappingConflictError
//
// Deterministic reads
//   - Events: ORDER BY effective_date, level, seq, id COLLATE BINARY
//   - Mappings: ORDER BY year, level
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads are stored as JSON with HTML escaping disabled; ids and digests
// are computed in internal/ir.
package store
