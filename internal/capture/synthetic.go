package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Synthetic generates frames for demos and tests: a textured background
// with a block sweeping across it.
type Synthetic struct {
	Width  int
	Height int
	FPS    int // zero emits frames as fast as they are read
	Limit  int // frames per run; zero is unlimited
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(width, height, fps, limit int) *Synthetic {
	return &Synthetic{Width: width, Height: height, FPS: fps, Limit: limit}
}

// Name implements Source.
func (s *Synthetic) Name() string {
	return fmt.Sprintf("synthetic:%dx%d", s.Width, s.Height)
}

// Open implements Source.
func (s *Synthetic) Open(_ context.Context) (Capture, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("synthetic: invalid size %dx%d", s.Width, s.Height)
	}
	logger.Info("Capture", "synthetic stream opened (%dx%d @ %d fps)", s.Width, s.Height, s.FPS)

	c := &syntheticCapture{src: *s, start: time.Now()}
	if s.FPS > 0 {
		c.interval = time.Second / time.Duration(s.FPS)
	}
	return c, nil
}

type syntheticCapture struct {
	src      Synthetic
	interval time.Duration
	start    time.Time

	mu       sync.Mutex
	seq      uint64
	next     time.Time
	released bool
}

func (c *syntheticCapture) Read(ctx context.Context) (types.Frame, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return types.Frame{}, ErrClosed
	}
	if c.src.Limit > 0 && c.seq >= uint64(c.src.Limit) {
		c.mu.Unlock()
		return types.Frame{}, ErrExhausted
	}
	seq := c.seq
	c.seq++
	wait := time.Duration(0)
	if c.interval > 0 {
		now := time.Now()
		if c.next.After(now) {
			wait = c.next.Sub(now)
		} else {
			c.next = now
		}
		c.next = c.next.Add(c.interval)
	}
	c.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	return types.Frame{
		Image:     c.render(seq),
		Timestamp: time.Now(),
		FrameNum:  seq,
	}, nil
}

func (c *syntheticCapture) render(seq uint64) image.Image {
	w, h := c.src.Width, c.src.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(60 + (x*7+y*3)%140)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: uint8(200 - int(v)/2), A: 255})
		}
	}

	bw := w / 4
	if bw == 0 {
		bw = 1
	}
	x := int(seq*8) % (w + bw)
	block := image.Rect(x-bw, h/3, x, 2*h/3)
	draw.Draw(img, block, &image.Uniform{C: color.RGBA{R: 230, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	return img
}

func (c *syntheticCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.released {
		c.released = true
		logger.Info("Capture", "synthetic stream released after %d frames (%s)", c.seq, time.Since(c.start).Round(time.Millisecond))
	}
	return nil
}
