// Package capture provides the video sources the detection loop reads from.
package capture

import (
	"context"
	"errors"

	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// ErrExhausted is returned by Read when the source has no more frames.
var ErrExhausted = errors.New("capture: source exhausted")

// ErrClosed is returned by Read after Release.
var ErrClosed = errors.New("capture: released")

// Capture is an opened video source owned by a single run.
type Capture interface {
	// Read blocks until the next frame is available.
	Read(ctx context.Context) (types.Frame, error)
	// Release frees the underlying device.
	Release() error
}

// Source opens a fresh Capture for each run.
type Source interface {
	Open(ctx context.Context) (Capture, error)
	Name() string
}
