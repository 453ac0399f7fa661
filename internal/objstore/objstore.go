// Package objstore persists raw upstream documents and rendered snapshots
// as JSON objects under hierarchical keys, on a local filesystem or in S3.
//
// Keys follow the partitioned layout
//
//	{data_type}/country={country}/year={year}/level={level}/{name}
//
// so one prefix lists everything of a kind, a country or a year.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that are empty, absolute, or
	// escape the store root.
	ErrInvalidKey = errors.New("invalid object key")
)

// Store reads and writes JSON objects.
type Store interface {
	ReadJSON(ctx context.Context, key string, v any) error
	WriteJSON(ctx context.Context, key string, v any) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Key names an object in the partitioned layout. Empty partitions are
// left out.
type Key struct {
	DataType string
	Country  string
	Year     int
	Level    string
	Name     string
}

// String renders the key.
func (k Key) String() string {
	parts := []string{k.DataType}
	if k.Country != "" {
		parts = append(parts, "country="+k.Country)
	}
	if k.Year != 0 {
		parts = append(parts, fmt.Sprintf("year=%d", k.Year))
	}
	if k.Level != "" {
		parts = append(parts, "level="+k.Level)
	}
	if k.Name != "" {
		parts = append(parts, k.Name)
	}
	return strings.Join(parts, "/")
}

// Prefix renders the key with a trailing slash, for ListKeys.
func (k Key) Prefix() string {
	return k.String() + "/"
}

// cleanKey validates a key and returns it in canonical slash form.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}
