// Package webcam reads frames from a local camera or stream URL via OpenCV.
package webcam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/Craftycody123/vision-safe-nav/internal/capture"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Source opens a camera index ("0") or a stream URL.
type Source struct {
	Device string
	Width  int // requested capture width; zero keeps the device default
	Height int
}

// New creates a webcam source.
func New(device string, width, height int) *Source {
	return &Source{Device: device, Width: width, Height: height}
}

// Name implements capture.Source.
func (s *Source) Name() string { return "webcam:" + s.Device }

// Open implements capture.Source.
func (s *Source) Open(_ context.Context) (capture.Capture, error) {
	vc, err := gocv.OpenVideoCapture(s.Device)
	if err != nil {
		return nil, fmt.Errorf("open video capture %s: %w", s.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture %s did not open", s.Device)
	}
	if s.Width > 0 && s.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	}

	logger.Info("Capture", "webcam %s opened", s.Device)
	return &camera{vc: vc, mat: gocv.NewMat(), device: s.Device}, nil
}

type camera struct {
	mu       sync.Mutex
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	device   string
	seq      uint64
	released bool
}

// Read grabs the next frame. A failed grab or empty frame means the device
// is gone and ends the run.
func (c *camera) Read(_ context.Context) (types.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return types.Frame{}, capture.ErrClosed
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return types.Frame{}, fmt.Errorf("webcam %s: %w", c.device, capture.ErrExhausted)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("webcam %s: convert frame: %w", c.device, err)
	}

	seq := c.seq
	c.seq++
	return types.Frame{Image: img, Timestamp: time.Now(), FrameNum: seq}, nil
}

func (c *camera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}
	c.released = true
	c.mat.Close()
	logger.Info("Capture", "webcam %s released after %d frames", c.device, c.seq)
	return c.vc.Close()
}
