// Package warning turns raw detections into ranked navigation warnings.
package warning

import "fmt"

// Direction is the horizontal zone of the frame an obstacle sits in.
type Direction string

const (
	Left  Direction = "left"
	Ahead Direction = "ahead"
	Right Direction = "right"
)

// UnrankedPriority is assigned to directions outside the priority order.
const UnrankedPriority = 99

// VisibilityPriority outranks every directional warning.
const VisibilityPriority = -1

// Sentinel object names for frame-level hazards.
const (
	CrowdedArea   = "crowded area"
	LowVisibility = "low visibility"
)

// priorityOrder lists directions from most to least urgent.
var priorityOrder = []Direction{Ahead, Left, Right}

// PriorityOf returns the rank of d in the priority order, or UnrankedPriority.
func PriorityOf(d Direction) int {
	for i, p := range priorityOrder {
		if p == d {
			return i
		}
	}
	return UnrankedPriority
}

// Warning is one ranked hazard. Lower priority is more urgent.
type Warning struct {
	Object    string    `json:"object"`
	Direction Direction `json:"direction"`
	Priority  int       `json:"priority"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s (%d)", w.Object, w.Direction, w.Priority)
}

// Set is the ordered warning list for a single frame.
type Set []Warning

// Top returns the most urgent warning, or false for an empty set.
func (s Set) Top() (Warning, bool) {
	if len(s) == 0 {
		return Warning{}, false
	}
	return s[0], true
}

// Clone returns a copy that shares no backing array with s. A nil or empty
// set clones to an empty, non-nil set so it encodes as [] in JSON.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	copy(out, s)
	return out
}
