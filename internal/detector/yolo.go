package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Default YOLO post-processing thresholds.
const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
)

// Decoder turns a raw YOLOv8 output tensor into detections.
type Decoder struct {
	Labels     []string
	Confidence float32
	IoU        float64
}

// Decode reads a [1, 4+len(Labels), n] channel-major tensor. Boxes are
// center x/y, width, height in model input pixels and are scaled by sx, sy
// back to frame pixels, then clamped to the frame.
func (d Decoder) Decode(out []float32, n int, sx, sy float64, frameW, frameH int) ([]types.Detection, error) {
	classes := len(d.Labels)
	if want := (4 + classes) * n; len(out) != want {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(out), want)
	}

	var dets []types.Detection
	for i := 0; i < n; i++ {
		best, score := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := out[(4+c)*n+i]; s > score {
				best, score = c, s
			}
		}
		if best < 0 || score < d.Confidence {
			continue
		}

		cx, cy := float64(out[i]), float64(out[n+i])
		w, h := float64(out[2*n+i]), float64(out[3*n+i])
		box := types.Box{
			X1: clamp(int(math.Round((cx-w/2)*sx)), 0, frameW),
			Y1: clamp(int(math.Round((cy-h/2)*sy)), 0, frameH),
			X2: clamp(int(math.Round((cx+w/2)*sx)), 0, frameW),
			Y2: clamp(int(math.Round((cy+h/2)*sy)), 0, frameH),
		}
		dets = append(dets, types.Detection{Label: d.Labels[best], Box: box, Confidence: score})
	}
	return NMS(dets, d.IoU), nil
}

// NMS keeps the most confident box of every overlapping same-label group.
// The result is ordered by descending confidence.
func NMS(dets []types.Detection, iou float64) []types.Detection {
	sorted := append([]types.Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.Detection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Label == d.Label && IoU(k.Box, d.Box) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// IoU is the intersection over union of two boxes.
func IoU(a, b types.Box) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Area()+b.Area()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
