// Package detector defines the object detector contract and the model
// independent parts of YOLO post-processing.
package detector

import (
	"context"
	"image"

	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, img image.Image) ([]types.Detection, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// Nop reports nothing. Crowd and visibility checks still run on its frames.
type Nop struct{}

// Detect implements Detector.
func (Nop) Detect(context.Context, image.Image) ([]types.Detection, error) {
	return nil, nil
}

// COCOLabels are the 80 class names in YOLO output order.
var COCOLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}
