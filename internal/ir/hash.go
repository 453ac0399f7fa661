package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainChangeEvent = "atlas/change-event/v1"
	DomainMapping     = "atlas/mapping/v1"
)

// unitNamespace is the UUID namespace for unit ids.
var unitNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/roach88/atlas/unit"))

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of a change event.
// Only the transition itself is hashed: dimension, level, the old and new
// code sets and the effective date. Names, pairs and Seq are excluded so
// that re-ingesting the same transition is an idempotent no-op.
func EventID(ev ChangeEvent) (string, error) {
	obj := map[string]any{
		"dimension":      ev.Dimension,
		"level":          ev.Level,
		"old":            ev.OldCodes(),
		"new":            ev.NewCodes(),
		"effective_date": ev.EffectiveDate,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChangeEvent, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(ev ChangeEvent) string {
	id, err := EventID(ev)
	if err != nil {
		panic(err)
	}
	return id
}

// UnitOrigin is where a unit identity begins: the code it first held, at
// which level, from which date, and the event that created it (empty for
// units present in the base mapping).
type UnitOrigin struct {
	Dimension Dimension
	Level     Level
	Code      string
	Date      Date
	Event     string
}

// NewUnitID derives the stable id of a unit from its origin.
// Replaying the same ledger over the same base always yields the same ids.
func NewUnitID(o UnitOrigin) (UnitID, error) {
	obj := map[string]any{
		"dimension": o.Dimension,
		"level":     o.Level,
		"code":      o.Code,
		"date":      o.Date,
	}
	if o.Event != "" {
		obj["event"] = o.Event
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("NewUnitID: failed to marshal: %w", err)
	}
	return UnitID(uuid.NewSHA1(unitNamespace, canonical).String()), nil
}

// MustUnitID is like NewUnitID but panics on error.
func MustUnitID(o UnitOrigin) UnitID {
	id, err := NewUnitID(o)
	if err != nil {
		panic(err)
	}
	return id
}

// MappingDigest hashes the content of a parent-child mapping. Provenance
// fields (Source, RetrievedAt) are excluded so a re-fetched copy of the
// same publication digests identically.
func MappingDigest(m ParentChildMapping) (string, error) {
	m.Parents = slices.Clone(m.Parents)
	for i := range m.Parents {
		m.Parents[i].Children = slices.Clone(m.Parents[i].Children)
	}
	m.Normalize()
	parents := make([]any, 0, len(m.Parents))
	for _, p := range m.Parents {
		children := make([]any, 0, len(p.Children))
		for _, c := range p.Children {
			children = append(children, map[string]any{"code": c.Code, "name": c.Name})
		}
		parents = append(parents, map[string]any{
			"code":     p.Code,
			"name":     p.Name,
			"children": children,
		})
	}
	obj := map[string]any{
		"dimension":      m.Dimension,
		"year":           m.Year,
		"level":          m.Level,
		"reference_date": m.ReferenceDate,
		"parents":        parents,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("MappingDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMapping, canonical), nil
}
