package ir

import (
	"fmt"
	"strconv"
)

// Level is the position of a unit in the administrative hierarchy.
type Level int

const (
	// LevelCounty covers counties and electoral districts.
	LevelCounty Level = 1
	// LevelMunicipality covers municipalities.
	LevelMunicipality Level = 2
	// LevelPrecinct covers voting precincts, where available.
	LevelPrecinct Level = 3
)

// MaxLevel is the deepest supported level.
const MaxLevel = LevelPrecinct

// Valid reports whether l is a supported level.
func (l Level) Valid() bool {
	return l >= LevelCounty && l <= MaxLevel
}

// Parent returns the level of l's parents. Level 1 has no parent.
func (l Level) Parent() (Level, bool) {
	if l <= LevelCounty {
		return 0, false
	}
	return l - 1, true
}

// Child returns the level of l's children.
func (l Level) Child() (Level, bool) {
	if l >= MaxLevel {
		return 0, false
	}
	return l + 1, true
}

// String returns a human-readable label for the level.
func (l Level) String() string {
	switch l {
	case LevelCounty:
		return "county"
	case LevelMunicipality:
		return "municipality"
	case LevelPrecinct:
		return "precinct"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLevel converts a flag or path segment into a Level.
func ParseLevel(s string) (Level, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("invalid level %d: must be between %d and %d", n, LevelCounty, MaxLevel)
	}
	return l, nil
}
