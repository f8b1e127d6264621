// Package onnx runs a YOLOv8 model through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Craftycody123/vision-safe-nav/internal/detector"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Config describes the model and runtime.
type Config struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the loader default
	InputSize   int    // square model input, 640 for stock YOLOv8
	Boxes       int    // candidate boxes per output, 8400 for 640 input
	Confidence  float32
	IoU         float64
	Labels      []string
}

// DefaultConfig returns settings for a stock COCO YOLOv8 export.
func DefaultConfig() Config {
	return Config{
		InputSize:  640,
		Boxes:      8400,
		Confidence: detector.DefaultConfidence,
		IoU:        detector.DefaultIoU,
		Labels:     detector.COCOLabels,
	}
}

// Detector owns one ONNX session. Detect calls are serialised; the session
// and tensors are reused across frames.
type Detector struct {
	cfg     Config
	decoder detector.Decoder

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	buffer  []float32
}

var envOnce sync.Once
var envErr error

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// BoxesFor returns the YOLOv8 candidate count for a square input: one box
// per cell of the stride 8, 16 and 32 grids.
func BoxesFor(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		n += cells * cells
	}
	return n
}

// New loads the model.
func New(cfg Config) (*Detector, error) {
	def := DefaultConfig()
	if cfg.InputSize == 0 {
		cfg.InputSize = def.InputSize
	}
	if cfg.Boxes == 0 {
		cfg.Boxes = BoxesFor(cfg.InputSize)
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = def.Confidence
	}
	if cfg.IoU == 0 {
		cfg.IoU = def.IoU
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = def.Labels
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize))
	outputShape := ort.NewShape(1, int64(4+len(cfg.Labels)), int64(cfg.Boxes))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	logger.Info("Detector", "loaded %s (input %d, %d classes)", cfg.ModelPath, cfg.InputSize, len(cfg.Labels))
	return &Detector{
		cfg:     cfg,
		decoder: detector.Decoder{Labels: cfg.Labels, Confidence: cfg.Confidence, IoU: cfg.IoU},
		session: session,
		input:   input,
		output:  output,
		buffer:  make([]float32, 3*cfg.InputSize*cfg.InputSize),
	}, nil
}

// Detect implements detector.Detector.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("onnx: nil frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, fmt.Errorf("onnx: detector closed")
	}

	start := time.Now()
	size := d.cfg.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)
	fillCHW(d.buffer, resized, size)
	copy(d.input.GetData(), d.buffer)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	b := img.Bounds()
	sx := float64(b.Dx()) / float64(size)
	sy := float64(b.Dy()) / float64(size)
	dets, err := d.decoder.Decode(d.output.GetData(), d.cfg.Boxes, sx, sy, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	logger.Debug("Detector", "%d detections in %s", len(dets), time.Since(start).Round(time.Millisecond))
	return dets, nil
}

// fillCHW writes the NRGBA image as planar RGB scaled to [0,1].
func fillCHW(buf []float32, img *image.NRGBA, size int) {
	plane := size * size
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			p := row[x*4:]
			buf[i] = float32(p[0]) / 255.0
			buf[plane+i] = float32(p[1]) / 255.0
			buf[2*plane+i] = float32(p[2]) / 255.0
		}
	}
}

// Close releases the session and tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	d.session = nil
	return nil
}
