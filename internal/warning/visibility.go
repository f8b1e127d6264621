package warning

import (
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// Default low-visibility thresholds on the 0-255 grayscale.
const (
	DefaultBrightnessThreshold = 40.0
	DefaultContrastThreshold   = 20.0
)

// VisibilityStats summarises the grayscale distribution of a frame.
type VisibilityStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// VisibilityDetector flags frames that are too dark or too flat to trust.
type VisibilityDetector struct {
	Brightness float64 // mean below this is low visibility
	Contrast   float64 // population std-dev below this is low visibility
	// SampleWidth downscales wide frames before measuring. Zero measures
	// every pixel. Downscaling averages out fine texture and lowers the
	// measured std-dev, so Contrast must be retuned when it is set.
	SampleWidth int
}

// Measure computes grayscale mean and population standard deviation.
func (v VisibilityDetector) Measure(img image.Image) VisibilityStats {
	if img == nil || img.Bounds().Empty() {
		return VisibilityStats{}
	}
	if v.SampleWidth > 0 && img.Bounds().Dx() > v.SampleWidth {
		img = imaging.Resize(img, v.SampleWidth, 0, imaging.Box)
	}

	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			values = append(values, float64(row[x]))
		}
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	return VisibilityStats{Mean: mean, StdDev: std}
}

// Low reports whether the stats fall under either threshold.
func (v VisibilityDetector) Low(s VisibilityStats) bool {
	return s.Mean < v.Brightness || s.StdDev < v.Contrast
}

// Check measures img and applies the thresholds. An empty image is not
// flagged; there is nothing to judge.
func (v VisibilityDetector) Check(img image.Image) (VisibilityStats, bool) {
	if img == nil || img.Bounds().Empty() {
		return VisibilityStats{}, false
	}
	s := v.Measure(img)
	return s, v.Low(s)
}
