package warning

import (
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// DefaultTrackedClasses are the detector labels that can raise warnings.
var DefaultTrackedClasses = []string{"person", "chair", "couch", "bed", "dining table"}

// DefaultDangerArea is the box area (pixels²) an object must exceed to count as close.
const DefaultDangerArea = 50000

// Classifier maps a single detection to a warning.
type Classifier struct {
	tracked    map[string]struct{}
	dangerArea int
}

// NewClassifier builds a classifier. An empty tracked list falls back to
// DefaultTrackedClasses; a negative dangerArea falls back to DefaultDangerArea.
func NewClassifier(tracked []string, dangerArea int) *Classifier {
	if len(tracked) == 0 {
		tracked = DefaultTrackedClasses
	}
	if dangerArea < 0 {
		dangerArea = DefaultDangerArea
	}

	set := make(map[string]struct{}, len(tracked))
	for _, label := range tracked {
		set[label] = struct{}{}
	}
	return &Classifier{tracked: set, dangerArea: dangerArea}
}

// Tracked reports whether label is in the allow-list.
func (c *Classifier) Tracked(label string) bool {
	_, ok := c.tracked[label]
	return ok
}

// Dangerous reports whether the box is strictly larger than the danger area.
func (c *Classifier) Dangerous(box types.Box) bool {
	return box.Area() > c.dangerArea
}

// Classify returns the warning for det in a frame of the given width, or
// false when the detection is untracked or not close enough.
func (c *Classifier) Classify(det types.Detection, frameWidth int) (Warning, bool) {
	if !c.Tracked(det.Label) || !c.Dangerous(det.Box) {
		return Warning{}, false
	}
	dir := DirectionOf(det.Box, frameWidth)
	return Warning{
		Object:    det.Label,
		Direction: dir,
		Priority:  PriorityOf(dir),
	}, true
}

// DirectionOf places the box center in the left, middle or right third of
// the frame. Centers exactly on a boundary count as ahead.
func DirectionOf(box types.Box, frameWidth int) Direction {
	cx := box.CenterX()
	w := float64(frameWidth)
	switch {
	case cx < w/3:
		return Left
	case cx > 2*w/3:
		return Right
	default:
		return Ahead
	}
}
