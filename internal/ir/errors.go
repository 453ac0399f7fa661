package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes data-integrity errors.
// None of these are retryable; they describe the data, not the transport.
type ErrorCode string

const (
	// ErrCodeUnresolvedUnit indicates no version holds a code at a date.
	ErrCodeUnresolvedUnit ErrorCode = "UNRESOLVED_UNIT"

	// ErrCodeAmbiguousUnit indicates several concurrently active units hold a code.
	ErrCodeAmbiguousUnit ErrorCode = "AMBIGUOUS_UNIT"

	// ErrCodeEventOrder indicates a ledger append out of chronological order.
	ErrCodeEventOrder ErrorCode = "EVENT_ORDER"

	// ErrCodeIntervalOverlap indicates a version opened while another is open.
	ErrCodeIntervalOverlap ErrorCode = "INTERVAL_OVERLAP"

	// ErrCodeValidation indicates malformed input.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeMappingConflict indicates a published mapping was republished with different content.
	ErrCodeMappingConflict ErrorCode = "MAPPING_CONFLICT"
)

// UnresolvedUnitError reports that no version holds Code at Level on AsOf.
//
// Nearest, when set, is the closest version that held the code at another
// time. It is diagnostic only and never a substitute result.
type UnresolvedUnitError struct {
	Code    string
	Level   Level
	AsOf    Date
	Nearest *Resolution
}

// Error implements the error interface.
func (e *UnresolvedUnitError) Error() string {
	msg := fmt.Sprintf("%s: no unit holds code %q at level %d on %s", ErrCodeUnresolvedUnit, e.Code, e.Level, e.AsOf)
	if e.Nearest != nil {
		msg += fmt.Sprintf(" (nearest: %s %d hop(s), valid from %s)",
			e.Nearest.Direction, e.Nearest.Hops, e.Nearest.Version.ValidFrom)
	}
	return msg
}

// AmbiguousUnitError reports that more than one active unit holds Code.
type AmbiguousUnitError struct {
	Code  string
	Level Level
	AsOf  Date
	Units []UnitID
}

// Error implements the error interface.
func (e *AmbiguousUnitError) Error() string {
	ids := make([]string, len(e.Units))
	for i, id := range e.Units {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s: code %q at level %d on %s is held by %d units [%s]",
		ErrCodeAmbiguousUnit, e.Code, e.Level, e.AsOf, len(e.Units), strings.Join(ids, ", "))
}

// EventOrderError reports an append that would break effective-date order.
// Ledger history is never reordered silently.
type EventOrderError struct {
	EventID       string
	Dimension     Dimension
	EffectiveDate Date
	LastDate      Date
	Reason        string
}

// Error implements the error interface.
func (e *EventOrderError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "effective date precedes last appended event"
	}
	return fmt.Sprintf("%s: event %s in %s effective %s: %s (last %s)",
		ErrCodeEventOrder, shortID(e.EventID), e.Dimension, e.EffectiveDate, reason, e.LastDate)
}

// IntervalOverlapError reports an attempt to open a version for a unit that
// still has an open version.
type IntervalOverlapError struct {
	UnitID   UnitID
	Code     string
	OpenFrom Date
	NewFrom  Date
	EventID  string
}

// Error implements the error interface.
func (e *IntervalOverlapError) Error() string {
	return fmt.Sprintf("%s: unit %s (%s) already open since %s, cannot open at %s",
		ErrCodeIntervalOverlap, e.UnitID, e.Code, e.OpenFrom, e.NewFrom)
}

// ValidationError reports malformed input: bad code syntax, dates outside
// the known range, or structurally invalid events and mappings.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s %q: %s", ErrCodeValidation, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrCodeValidation, e.Field, e.Message)
}

// MappingConflictError reports a republished mapping whose content differs.
type MappingConflictError struct {
	Dimension Dimension
	Year      int
	Level     Level
}

// Error implements the error interface.
func (e *MappingConflictError) Error() string {
	return fmt.Sprintf("%s: mapping %s year %d level %d is already published with different content",
		ErrCodeMappingConflict, e.Dimension, e.Year, e.Level)
}

// IsUnresolved returns true if err is or wraps an UnresolvedUnitError.
func IsUnresolved(err error) bool {
	var target *UnresolvedUnitError
	return errors.As(err, &target)
}

// IsAmbiguous returns true if err is or wraps an AmbiguousUnitError.
func IsAmbiguous(err error) bool {
	var target *AmbiguousUnitError
	return errors.As(err, &target)
}

// IsEventOrder returns true if err is or wraps an EventOrderError.
func IsEventOrder(err error) bool {
	var target *EventOrderError
	return errors.As(err, &target)
}

// IsIntervalOverlap returns true if err is or wraps an IntervalOverlapError.
func IsIntervalOverlap(err error) bool {
	var target *IntervalOverlapError
	return errors.As(err, &target)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// CodeOf returns the ErrorCode of a data-integrity error, or "" for others.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case IsUnresolved(err):
		return ErrCodeUnresolvedUnit
	case IsAmbiguous(err):
		return ErrCodeAmbiguousUnit
	case IsEventOrder(err):
		return ErrCodeEventOrder
	case IsIntervalOverlap(err):
		return ErrCodeIntervalOverlap
	case IsValidation(err):
		return ErrCodeValidation
	}
	var mc *MappingConflictError
	if errors.As(err, &mc) {
		return ErrCodeMappingConflict
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
