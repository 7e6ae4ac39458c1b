// Package perm defines the ordered permission levels used for
// resource-scoped access control.
package perm

import "fmt"

// Level represents an effective permission level for a resource.
// Levels form a total order: None < View < Upload < Full.
type Level int

const (
	None   Level = 0 // no access
	View   Level = 1 // read-only access
	Upload Level = 2 // read and write access
	Full   Level = 3 // full control, including grant administration
)

// MinLevel and MaxLevel bound the closed range of valid levels. The
// same range is enforced by a CHECK constraint at the store boundary.
const (
	MinLevel = None
	MaxLevel = Full
)

// Valid reports whether l is within the closed [None, Full] range.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// String returns a human-readable name for the level.
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case View:
		return "view"
	case Upload:
		return "upload"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("invalid(%d)", int(l))
	}
}

// ParseLevel converts a raw integer into a Level, rejecting values
// outside the valid range rather than clamping them.
func ParseLevel(v int) (Level, error) {
	l := Level(v)
	if !l.Valid() {
		return None, fmt.Errorf("permission level out of range: %d", v)
	}
	return l, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func Compare(a, b Level) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Max returns the more permissive of the two levels. When multiple
// grant paths apply to the same identity and resource, the resolver
// always combines them with Max: any single path that grants the
// needed level is sufficient.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// Satisfies reports whether the held level meets or exceeds the
// required level.
func Satisfies(have, required Level) bool {
	return have >= required
}
