package types

import (
	"image"
	"time"
)

// Frame represents a single captured video frame with metadata
type Frame struct {
	Image     image.Image // Decoded frame pixels
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number within a run
}

// Width returns the frame width in pixels (0 for an empty frame)
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels (0 for an empty frame)
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Box is an axis-aligned bounding box in frame pixel coordinates
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Area returns (x2-x1)*(y2-y1)
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// CenterX returns the horizontal center of the box
func (b Box) CenterX() float64 {
	return float64(b.X1+b.X2) / 2
}

// Rect converts the box to an image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one object reported by the detector for a frame
type Detection struct {
	Label      string  `json:"label"`
	Box        Box     `json:"box"`
	Confidence float32 `json:"confidence"`
}
