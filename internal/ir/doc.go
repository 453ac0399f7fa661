// Package ir provides the canonical domain types for the Atlas continuity tracker.
//
// This package contains type definitions, canonical JSON and content
// addressing only. All other internal packages import ir; ir imports
// nothing internal. This keeps ir the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Government codes are labels; UnitID is the durable identity
//   - Validity intervals are half-open: [ValidFrom, ValidTo)
//   - All JSON tags use snake_case
//   - NO float types in anything that is hashed or compared byte-for-byte
package ir
