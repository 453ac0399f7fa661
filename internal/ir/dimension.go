package ir

import (
	"fmt"
	"strings"
)

// Dimension scopes a tracker to one country and one level-1 taxonomy,
// e.g. nor/1a (administrative counties) or nor/1b (electoral districts).
// Unit identities never cross dimensions.
type Dimension struct {
	Country  string
	Taxonomy string
}

// ParseDimension parses "country/taxonomy".
func ParseDimension(s string) (Dimension, error) {
	country, taxonomy, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || country == "" || taxonomy == "" || strings.Contains(taxonomy, "/") {
		return Dimension{}, fmt.Errorf("invalid dimension %q: want country/taxonomy", s)
	}
	return Dimension{Country: strings.ToLower(country), Taxonomy: strings.ToLower(taxonomy)}, nil
}

// MustDimension is like ParseDimension but panics on error.
func MustDimension(s string) Dimension {
	d, err := ParseDimension(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns "country/taxonomy".
func (d Dimension) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Country + "/" + d.Taxonomy
}

// IsZero reports whether the dimension is unset.
func (d Dimension) IsZero() bool {
	return d.Country == "" && d.Taxonomy == ""
}

// MarshalText implements encoding.TextMarshaler.
func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dimension) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Dimension{}
		return nil
	}
	parsed, err := ParseDimension(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
