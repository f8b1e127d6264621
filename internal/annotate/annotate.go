// Package annotate renders detections and warnings onto frames and encodes
// them as JPEG for the video stream.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Craftycody123/vision-safe-nav/internal/warning"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

var (
	hazardColor = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	safeColor   = color.RGBA{R: 40, G: 200, B: 80, A: 255}
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	bannerColor = color.RGBA{R: 0, G: 0, B: 0, A: 170}
)

// Encoder draws boxes, labels and a warning banner, then encodes JPEG.
type Encoder struct {
	Quality  int
	Annotate bool
	Phrases  warning.Phrases
}

// NewEncoder returns an annotating encoder at the given quality.
func NewEncoder(quality int, annotate bool, phrases warning.Phrases) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{Quality: quality, Annotate: annotate, Phrases: phrases}
}

// Encode renders frame. hazardous is parallel to dets and marks the boxes
// that raised a warning.
func (e *Encoder) Encode(frame types.Frame, dets []types.Detection, hazardous []bool, warnings warning.Set) ([]byte, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("annotate: empty frame")
	}

	var img image.Image = frame.Image
	if e.Annotate {
		canvas := image.NewRGBA(frame.Image.Bounds())
		draw.Draw(canvas, canvas.Bounds(), frame.Image, frame.Image.Bounds().Min, draw.Src)
		for i, d := range dets {
			col := safeColor
			if i < len(hazardous) && hazardous[i] {
				col = hazardColor
			}
			drawBox(canvas, d.Box.Rect(), col, 2)
			drawLabel(canvas, d.Box.X1, d.Box.Y1, fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100), col)
		}
		if top, ok := warnings.Top(); ok {
			drawBanner(canvas, e.Phrases.Message(top))
		}
		img = canvas
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(dst *image.RGBA, r image.Rectangle, col color.Color, thickness int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

func drawLabel(dst *image.RGBA, x, y int, text string, bg color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Height + 2
	top := y - h
	if top < dst.Bounds().Min.Y {
		top = y
	}
	box := image.Rect(x, top, x+w, top+h).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Src)
	drawText(dst, x+2, top+face.Ascent+1, text)
}

func drawBanner(dst *image.RGBA, text string) {
	face := basicfont.Face7x13
	b := dst.Bounds()
	h := face.Height + 8
	bar := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+h)
	draw.Draw(dst, bar, image.NewUniform(bannerColor), image.Point{}, draw.Over)
	drawText(dst, b.Min.X+6, b.Min.Y+4+face.Ascent, text)
}

func drawText(dst *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// Blank renders colour bars, shown to video clients before the first frame.
func Blank(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := width / len(colors)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < width; x++ {
		barIndex := x / barWidth
		if barIndex >= len(colors) {
			barIndex = len(colors) - 1
		}
		draw.Draw(img, image.Rect(x, 0, x+1, height), image.NewUniform(colors[barIndex]), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
