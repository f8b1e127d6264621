// Package pipeline runs the detection loop and its start/stop state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Craftycody123/vision-safe-nav/internal/capture"
	"github.com/Craftycody123/vision-safe-nav/internal/detector"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/metrics"
	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

// Start/stop results reported to clients.
const (
	StatusStarted        = "detection started"
	StatusAlreadyRunning = "already running"
	StatusStopped        = "detection stopped"
)

// DefaultMaxDetectFailures ends a run after this many consecutive detector errors.
const DefaultMaxDetectFailures = 10

// ErrShutdown is returned by Start after Shutdown.
var ErrShutdown = errors.New("pipeline: shut down")

// Encoder renders the annotated frame published to video clients.
type Encoder interface {
	Encode(frame types.Frame, dets []types.Detection, hazardous []bool, warnings warning.Set) ([]byte, error)
}

// Config holds loop behaviour that is not owned by a collaborator.
type Config struct {
	Phrases           warning.Phrases
	AnnouncePathClear bool
	MaxDetectFailures int
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		Phrases:           warning.DefaultPhrases(),
		AnnouncePathClear: true,
		MaxDetectFailures: DefaultMaxDetectFailures,
	}
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Source   capture.Source
	Detector detector.Detector
	Scene    *warning.Scene
	Voice    *voice.Debouncer
	Encoder  Encoder
	Store    *state.Store
	Metrics  *metrics.Metrics
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Running  bool        `json:"running"`
	Warnings warning.Set `json:"warnings"`
}

// Controller owns at most one running detection loop.
type Controller struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	runID    string
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown bool
	// starting is set while Start waits for the previous loop and opens the
	// device without holding mu; aborted records a Stop in that window.
	starting bool
	aborted  bool
}

// New creates a stopped controller.
func New(deps Deps, cfg Config) (*Controller, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Voice == nil || deps.Encoder == nil {
		return nil, fmt.Errorf("pipeline: source, detector, voice and encoder are required")
	}
	if deps.Scene == nil {
		deps.Scene = warning.NewScene(warning.DefaultSceneConfig())
	}
	if deps.Store == nil {
		deps.Store = state.NewStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.MaxDetectFailures <= 0 {
		cfg.MaxDetectFailures = DefaultMaxDetectFailures
	}
	m := deps.Metrics
	deps.Voice.OnUtterance(func(u voice.Utterance) {
		if u.Err != nil {
			m.SpeechErrors.Add(1)
		}
	})
	return &Controller{deps: deps, cfg: cfg}, nil
}

// Store returns the shared detection state readers should use.
func (c *Controller) Store() *state.Store { return c.deps.Store }

// Start opens the capture device and launches the loop. Calling Start while
// a run is active, or while another Start is opening the device, returns
// StatusAlreadyRunning. If a stopped run is still finishing its last cycle,
// Start waits for it before reopening the device. The controller lock is not
// held while waiting or opening, so Stop and Status stay responsive; a Stop
// in that window cancels the pending start.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return "", ErrShutdown
	}
	if c.starting {
		c.mu.Unlock()
		return StatusAlreadyRunning, nil
	}
	prev := c.done
	if prev != nil && c.cancel != nil {
		select {
		case <-prev:
		default:
			c.mu.Unlock()
			return StatusAlreadyRunning, nil
		}
	}
	c.starting = true
	c.aborted = false
	c.mu.Unlock()

	device, err := c.open(ctx, prev)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return "", err
	}
	if c.shutdown || c.aborted {
		if rerr := device.Release(); rerr != nil {
			logger.Warn("Pipeline", "release %s after cancelled start: %v", c.deps.Source.Name(), rerr)
		}
		if c.shutdown {
			return "", ErrShutdown
		}
		logger.Info("Pipeline", "start cancelled by stop")
		return StatusStopped, nil
	}

	gen := c.deps.Store.Open()
	runCtx, cancel := context.WithCancel(context.Background())
	c.runID = uuid.New().String()
	c.cancel = cancel
	c.done = make(chan struct{})

	c.deps.Metrics.RunsStarted.Add(1)
	c.deps.Metrics.SetRunning(true)
	logger.Info("Pipeline", "run %s started on %s", c.runID, c.deps.Source.Name())

	r := &run{
		id:     c.runID,
		gen:    gen,
		device: device,
		deps:   c.deps,
		cfg:    c.cfg,
		cancel: cancel,
		done:   c.done,
	}
	go r.loop(runCtx)
	return StatusStarted, nil
}

// open waits for the previous loop, if any, then opens the capture device.
func (c *Controller) open(ctx context.Context, prev <-chan struct{}) (capture.Capture, error) {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	device, err := c.deps.Source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.deps.Source.Name(), err)
	}
	return device, nil
}

// Stop cancels the active run and clears the published state. The cycle in
// progress finishes but its results are discarded. Stop is idempotent.
func (c *Controller) Stop() string {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	id := c.runID
	if c.starting {
		c.aborted = true
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		logger.Info("Pipeline", "run %s stop requested", id)
	}
	c.deps.Store.Reset()
	c.deps.Metrics.SetRunning(false)
	return StatusStopped
}

// Status reads the shared state without touching the loop.
func (c *Controller) Status() Status {
	snap := c.deps.Store.Read()
	return Status{Running: snap.Running, Warnings: snap.Warnings}
}

// RunID returns the identifier of the current or last run.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Wait blocks until the current run's loop has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the run, joins the loop and waits for the in-flight
// utterance. Start fails afterwards.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()

	c.Stop()
	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("wait for detection loop: %w", err)
	}
	return c.deps.Voice.Close(ctx)
}
