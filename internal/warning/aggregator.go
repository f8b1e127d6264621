package warning

import (
	"image"
	"sort"

	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// DefaultCrowdThreshold is the person count a frame must exceed to be crowded.
const DefaultCrowdThreshold = 5

// Aggregate appends the crowd and visibility warnings to the per-object
// warnings and stable-sorts the result by ascending priority. Ties keep
// discovery order: objects, then crowd, then visibility.
func Aggregate(objects []Warning, crowded, lowVisibility bool) Set {
	out := make(Set, 0, len(objects)+2)
	out = append(out, objects...)
	if crowded {
		out = append(out, Warning{Object: CrowdedArea, Direction: Ahead, Priority: PriorityOf(Ahead)})
	}
	if lowVisibility {
		out = append(out, Warning{Object: LowVisibility, Direction: Ahead, Priority: VisibilityPriority})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// SceneConfig holds the tunable thresholds of a Scene.
type SceneConfig struct {
	TrackedClasses      []string
	DangerArea          int
	CrowdThreshold      int
	BrightnessThreshold float64
	ContrastThreshold   float64
	VisibilitySample    int
}

// DefaultSceneConfig returns the stock thresholds.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		TrackedClasses:      append([]string(nil), DefaultTrackedClasses...),
		DangerArea:          DefaultDangerArea,
		CrowdThreshold:      DefaultCrowdThreshold,
		BrightnessThreshold: DefaultBrightnessThreshold,
		ContrastThreshold:   DefaultContrastThreshold,
	}
}

// Scene evaluates a frame and its detections into one warning set.
type Scene struct {
	classifier     *Classifier
	crowdThreshold int
	visibility     VisibilityDetector
}

// NewScene builds a Scene from cfg.
func NewScene(cfg SceneConfig) *Scene {
	return &Scene{
		classifier:     NewClassifier(cfg.TrackedClasses, cfg.DangerArea),
		crowdThreshold: cfg.CrowdThreshold,
		visibility: VisibilityDetector{
			Brightness:  cfg.BrightnessThreshold,
			Contrast:    cfg.ContrastThreshold,
			SampleWidth: cfg.VisibilitySample,
		},
	}
}

// Evaluation is the outcome of one frame.
type Evaluation struct {
	Warnings   Set
	Hazardous  []bool // parallel to the detections; true when it raised a warning
	Persons    int
	Crowded    bool
	Visibility VisibilityStats
	LowVisible bool
}

// Evaluate classifies every detection, checks crowding over all person
// detections (close or not) and measures visibility on img.
func (s *Scene) Evaluate(img image.Image, dets []types.Detection) Evaluation {
	width := 0
	if img != nil {
		width = img.Bounds().Dx()
	}

	ev := Evaluation{Hazardous: make([]bool, len(dets))}
	objects := make([]Warning, 0, len(dets))
	for i, det := range dets {
		if det.Label == "person" {
			ev.Persons++
		}
		if w, ok := s.classifier.Classify(det, width); ok {
			objects = append(objects, w)
			ev.Hazardous[i] = true
		}
	}

	ev.Crowded = ev.Persons > s.crowdThreshold
	ev.Visibility, ev.LowVisible = s.visibility.Check(img)
	ev.Warnings = Aggregate(objects, ev.Crowded, ev.LowVisible)
	return ev
}
