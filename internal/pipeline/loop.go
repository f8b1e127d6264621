package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/Craftycody123/vision-safe-nav/internal/capture"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// run is one Start..Stop lifetime of the detection loop.
type run struct {
	id     string
	gen    uint64
	device capture.Capture
	deps   Deps
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

// loop executes cycles until ctx is cancelled or the run fails. Cancellation
// is observed only between cycles; a cycle in progress runs to completion.
func (r *run) loop(ctx context.Context) {
	m := r.deps.Metrics
	defer close(r.done)
	defer r.cancel()
	defer func() {
		if err := r.device.Release(); err != nil {
			logger.Warn("Pipeline", "run %s: release capture: %v", r.id, err)
		}
		if r.deps.Store.End(r.gen) {
			m.SetRunning(false)
		}
	}()

	failures := 0
	cycles := 0
	for {
		if ctx.Err() != nil {
			logger.Info("Pipeline", "run %s stopped after %d cycles", r.id, cycles)
			return
		}

		ok, err := r.cycle(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrExhausted) {
				logger.Info("Pipeline", "run %s: capture ended after %d cycles: %v", r.id, cycles, err)
				return
			}
			m.CaptureErrors.Add(1)
			logger.Error("Pipeline", "run %s: capture failed: %v", r.id, xerrors.New(err))
			return
		}
		if ok {
			failures = 0
			cycles++
			continue
		}

		failures++
		if failures >= r.cfg.MaxDetectFailures {
			logger.Error("Pipeline", "run %s: detector failed %d times in a row, stopping", r.id, failures)
			return
		}
	}
}

// cycle performs read → detect → evaluate → speak → encode → publish. It
// returns a non-nil error only for capture failures; false means the
// detector failed and the cycle was skipped. Collaborators get a context
// that is not cancelled by Stop; a cycle that finishes after Stop stays silent
// and its publish is rejected by the store.
func (r *run) cycle(runCtx context.Context) (bool, error) {
	m := r.deps.Metrics
	start := time.Now()
	ctx := context.WithoutCancel(runCtx)

	frame, err := r.device.Read(ctx)
	if err != nil {
		return false, err
	}

	detectStart := time.Now()
	dets, err := r.deps.Detector.Detect(ctx, frame.Image)
	m.UpdateDetectLatency(time.Since(detectStart))
	if err != nil {
		m.DetectErrors.Add(1)
		m.CyclesSkipped.Add(1)
		logger.Warn("Pipeline", "run %s frame %d: detect failed: %v", r.id, frame.FrameNum, err)
		return false, nil
	}

	ev := r.deps.Scene.Evaluate(frame.Image, dets)
	m.WarningsRaised.Add(uint64(len(ev.Warnings)))
	if runCtx.Err() == nil {
		r.announce(ev.Warnings)
	}

	jpeg, err := r.deps.Encoder.Encode(frame, dets, ev.Hazardous, ev.Warnings)
	if err != nil {
		m.EncodeErrors.Add(1)
		logger.Warn("Pipeline", "run %s frame %d: encode failed: %v", r.id, frame.FrameNum, err)
		return true, nil
	}

	if r.deps.Store.Publish(r.gen, ev.Warnings, jpeg) {
		m.CyclesCompleted.Add(1)
		m.FramesPublished.Add(1)
	}
	m.UpdateCycleLatency(start)
	logger.Debug("Pipeline", "run %s frame %d: %d detections, %d warnings", r.id, frame.FrameNum, len(dets), len(ev.Warnings))
	return true, nil
}

// announce offers the top warning, or the path-clear phrase, to the voice
// debouncer.
func (r *run) announce(ws warning.Set) {
	a := voice.Announcement{RunID: r.id, Message: r.cfg.Phrases.ForSet(ws)}
	if top, ok := ws.Top(); ok {
		a.Top = &top
	} else if !r.cfg.AnnouncePathClear {
		return
	}

	if r.deps.Voice.Offer(a) {
		r.deps.Metrics.UtterancesSpoken.Add(1)
		return
	}
	r.deps.Metrics.UtterancesSuppressed.Add(1)
}
