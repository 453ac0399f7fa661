package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/atlas/internal/ir"
)

// marshalPayload converts a record to JSON TEXT for storage.
// Uses json.Encoder with HTML escaping disabled so names such as
// "Møre og Romsdal" and "Trøndelag & Co" round-trip byte for byte.
func marshalPayload(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

// unmarshalEvent parses a stored change event payload.
// Seq is a column, not part of the payload; the caller sets it.
func unmarshalEvent(data string) (ir.ChangeEvent, error) {
	var ev ir.ChangeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ir.ChangeEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// unmarshalMapping parses a stored mapping payload.
func unmarshalMapping(data string) (ir.ParentChildMapping, error) {
	var m ir.ParentChildMapping
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return ir.ParentChildMapping{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	return m, nil
}
