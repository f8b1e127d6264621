package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craftycody123/vision-safe-nav/internal/capture"
	"github.com/Craftycody123/vision-safe-nav/internal/detector"
	"github.com/Craftycody123/vision-safe-nav/internal/metrics"
	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

var testFrame = func() image.Image {
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}()

// fakeSource hands out fakeCaptures that fail after failAfter frames
// (never when zero).
type fakeSource struct {
	openErr   error
	failAfter int
	failErr   error
	// openGate, when set, blocks Open until it is closed; openEntered is
	// signalled as Open starts waiting.
	openGate    chan struct{}
	openEntered chan struct{}

	opened   atomic.Int32
	released atomic.Int32
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Open(context.Context) (capture.Capture, error) {
	if s.openGate != nil {
		s.openEntered <- struct{}{}
		<-s.openGate
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened.Add(1)
	return &fakeCapture{src: s}, nil
}

type fakeCapture struct {
	src *fakeSource
	n   int
}

func (c *fakeCapture) Read(context.Context) (types.Frame, error) {
	if c.src.failAfter > 0 && c.n >= c.src.failAfter {
		return types.Frame{}, c.src.failErr
	}
	c.n++
	time.Sleep(time.Millisecond)
	return types.Frame{Image: testFrame, FrameNum: uint64(c.n), Timestamp: time.Now()}, nil
}

func (c *fakeCapture) Release() error {
	c.src.released.Add(1)
	return nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(f types.Frame, _ []types.Detection, _ []bool, _ warning.Set) ([]byte, error) {
	return []byte{0xff, 0xd8, byte(f.FrameNum)}, nil
}

type recordSpeaker struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordSpeaker) Speak(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordSpeaker) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordSpeaker) spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type harness struct {
	ctrl    *Controller
	source  *fakeSource
	speaker *recordSpeaker
	metrics *metrics.Metrics
	store   *state.Store
}

func newHarness(t *testing.T, src *fakeSource, det detector.Detector) *harness {
	t.Helper()
	if src == nil {
		src = &fakeSource{}
	}
	sp := &recordSpeaker{}
	m := metrics.New()
	store := state.NewStore()
	ctrl, err := New(Deps{
		Source:   src,
		Detector: det,
		Scene:    warning.NewScene(warning.DefaultSceneConfig()),
		Voice:    voice.NewDebouncer(sp, voice.Config{Cooldown: voice.DefaultCooldown}),
		Encoder:  fakeEncoder{},
		Store:    store,
		Metrics:  m,
	}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return &harness{ctrl: ctrl, source: src, speaker: sp, metrics: m, store: store}
}

func staticDetector(dets ...types.Detection) detector.Detector {
	return detector.Func(func(context.Context, image.Image) ([]types.Detection, error) {
		return dets, nil
	})
}

// personLeft is a 300x200 (area 60000) person centered at 0.1 * 640.
var personLeft = types.Detection{Label: "person", Box: types.Box{X1: 64 - 150, Y1: 100, X2: 64 + 150, Y2: 300}, Confidence: 0.9}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, detector.Nop{})
	ctx := context.Background()

	msg, err := h.ctrl.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, msg)

	msg, err = h.ctrl.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, msg)
	assert.Equal(t, int32(1), h.source.opened.Load())
	assert.True(t, h.ctrl.Status().Running)
}

func TestPersonOnTheLeft(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, staticDetector(personLeft))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	want := warning.Set{{Object: "person", Direction: warning.Left, Priority: 1}}
	require.Eventually(t, func() bool {
		return cmp.Equal(want, h.ctrl.Status().Warnings)
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.speaker.spoken()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "person left", h.speaker.spoken()[0])

	snap := h.store.Read()
	assert.True(t, snap.Running)
	assert.NotEmpty(t, snap.Frame)
}

func TestCrowdWarningFirst(t *testing.T) {
	t.Parallel()

	dets := make([]types.Detection, 10)
	for i := range dets {
		dets[i] = personLeft
	}
	h := newHarness(t, nil, staticDetector(dets...))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.ctrl.Status().Warnings) == 11
	}, 2*time.Second, 5*time.Millisecond)
	ws := h.ctrl.Status().Warnings
	assert.Equal(t, warning.Warning{Object: warning.CrowdedArea, Direction: warning.Ahead, Priority: 0}, ws[0])

	require.Eventually(t, func() bool {
		return len(h.speaker.spoken()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Crowded area ahead", h.speaker.spoken()[0])
}

func TestPathClearAnnounced(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, detector.Nop{})
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := h.speaker.spoken()
		return len(s) > 0 && s[0] == "path clear"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSpeechFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, detector.Nop{})
	h.speaker.fail(errors.New("espeak: not found"))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.metrics.SpeechErrors.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.ctrl.Status().Running)
	require.Eventually(t, func() bool {
		return h.metrics.CyclesCompleted.Load() > 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotentAndClearsState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, staticDetector(personLeft))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(h.ctrl.Status().Warnings) > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, StatusStopped, h.ctrl.Stop())
	assert.Equal(t, StatusStopped, h.ctrl.Stop())

	st := h.ctrl.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Warnings)

	require.NoError(t, h.ctrl.Wait(context.Background()))
	assert.Equal(t, int32(1), h.source.released.Load())

	// A late cycle must not republish after the stop.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.store.Read().Frame)
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, detector.Nop{})
	ctx := context.Background()
	_, err := h.ctrl.Start(ctx)
	require.NoError(t, err)
	firstRun := h.ctrl.RunID()

	h.ctrl.Stop()
	msg, err := h.ctrl.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, msg)
	assert.NotEqual(t, firstRun, h.ctrl.RunID())
	assert.Equal(t, int32(2), h.source.opened.Load())
	assert.Equal(t, int32(1), h.source.released.Load(), "previous device released before reopening")
	assert.True(t, h.ctrl.Status().Running)
}

func TestCaptureFailureEndsRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failAfter: 3, failErr: errors.New("camera unplugged")}
	h := newHarness(t, src, staticDetector(personLeft))
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Wait(context.Background()))
	st := h.ctrl.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Warnings)
	assert.Equal(t, int32(1), src.released.Load())
	assert.Equal(t, uint64(1), h.metrics.CaptureErrors.Load())
	assert.Equal(t, uint64(0), h.metrics.Running.Load())

	msg, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, msg, "a failed run can be restarted")
}

func TestCaptureExhaustedIsNotAnError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failAfter: 2, failErr: capture.ErrExhausted}
	h := newHarness(t, src, detector.Nop{})
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Wait(context.Background()))
	assert.False(t, h.ctrl.Status().Running)
	assert.Equal(t, uint64(0), h.metrics.CaptureErrors.Load())
}

func TestDetectorFailuresSkipCycles(t *testing.T) {
	t.Parallel()

	det := detector.Func(func(context.Context, image.Image) ([]types.Detection, error) {
		return nil, errors.New("model crashed")
	})
	h := newHarness(t, nil, det)
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Wait(context.Background()))
	assert.False(t, h.ctrl.Status().Running)
	assert.Equal(t, uint64(DefaultMaxDetectFailures), h.metrics.DetectErrors.Load())
	assert.Empty(t, h.speaker.spoken(), "a failing detector must never announce path clear")
	assert.Empty(t, h.store.Read().Frame)
}

func TestStopDuringCycleDiscardsResult(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	det := detector.Func(func(ctx context.Context, _ image.Image) ([]types.Detection, error) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
			assert.NoError(t, ctx.Err(), "in-flight cycle must not be cancelled")
		}
		return []types.Detection{personLeft}, nil
	})
	h := newHarness(t, nil, det)
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	<-entered
	h.ctrl.Stop()
	close(release)
	require.NoError(t, h.ctrl.Wait(context.Background()))

	snap := h.store.Read()
	assert.False(t, snap.Running)
	assert.Empty(t, snap.Warnings)
	assert.Empty(t, snap.Frame)
	assert.Equal(t, int32(1), calls.Load(), "loop exits at the next cycle boundary")
	assert.Empty(t, h.speaker.spoken())
}

func TestStartOpenFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSource{openErr: errors.New("no camera")}, detector.Nop{})
	_, err := h.ctrl.Start(context.Background())
	require.ErrorContains(t, err, "no camera")
	assert.False(t, h.ctrl.Status().Running)
}

func TestShutdownRejectsStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, detector.Nop{})
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Shutdown(context.Background()))

	_, err = h.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func slowSource() *fakeSource {
	return &fakeSource{openGate: make(chan struct{}), openEntered: make(chan struct{}, 1)}
}

type startResult struct {
	msg string
	err error
}

func startAsync(ctrl *Controller) <-chan startResult {
	out := make(chan startResult, 1)
	go func() {
		msg, err := ctrl.Start(context.Background())
		out <- startResult{msg, err}
	}()
	return out
}

// returnsWithin fails the test if fn blocks longer than d.
func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call blocked behind a pending start")
	}
}

func TestSlowOpenDoesNotBlockController(t *testing.T) {
	t.Parallel()

	src := slowSource()
	h := newHarness(t, src, detector.Nop{})
	res := startAsync(h.ctrl)
	<-src.openEntered

	returnsWithin(t, time.Second, func() {
		assert.Empty(t, h.ctrl.RunID())
		assert.False(t, h.ctrl.Status().Running)
	})

	msg, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, msg, "second start while opening")

	close(src.openGate)
	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, StatusStarted, r.msg)
	assert.NotEmpty(t, h.ctrl.RunID())
	assert.Equal(t, int32(1), src.opened.Load())
}

func TestStopCancelsPendingStart(t *testing.T) {
	t.Parallel()

	src := slowSource()
	h := newHarness(t, src, detector.Nop{})
	res := startAsync(h.ctrl)
	<-src.openEntered

	returnsWithin(t, time.Second, func() {
		assert.Equal(t, StatusStopped, h.ctrl.Stop())
	})

	close(src.openGate)
	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, StatusStopped, r.msg)
	assert.False(t, h.ctrl.Status().Running)
	assert.Equal(t, int32(1), src.released.Load(), "device opened for a cancelled start is released")
	assert.Equal(t, uint64(0), h.metrics.RunsStarted.Load())

	src.openGate = nil
	msg, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, msg)
}
