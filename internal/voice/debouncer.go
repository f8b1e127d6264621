// Package voice decides when a navigation message is spoken and drives the
// speech engines.
package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/timeutil"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// Default debouncer timings.
const (
	DefaultCooldown = 3 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Speaker is a blocking text-to-speech engine.
type Speaker interface {
	Speak(ctx context.Context, message string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, message string) error

// Speak calls f.
func (f SpeakerFunc) Speak(ctx context.Context, message string) error { return f(ctx, message) }

// Announcement is one candidate message offered to the debouncer.
type Announcement struct {
	RunID   string
	Message string
	Top     *warning.Warning // nil for the path-clear message
}

// Utterance describes a finished speech attempt.
type Utterance struct {
	Announcement
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Observer is notified after every utterance completes.
type Observer func(Utterance)

// Phase is the debouncer state.
type Phase string

const (
	Idle     Phase = "idle"
	Speaking Phase = "speaking"
)

// Status is a snapshot of the debouncer.
type Status struct {
	Phase        Phase     `json:"phase"`
	LastMessage  string    `json:"last_message"`
	LastSpokenAt time.Time `json:"last_spoken_at"`
}

// Config holds the debouncer settings.
type Config struct {
	Cooldown time.Duration
	Timeout  time.Duration // per utterance; zero means no limit
	Clock    timeutil.Clock
}

// Debouncer lets at most one utterance run at a time and suppresses a
// repeated message inside the cooldown window.
type Debouncer struct {
	speaker  Speaker
	clock    timeutil.Clock
	cooldown time.Duration
	timeout  time.Duration

	mu           sync.Mutex
	phase        Phase
	lastMessage  string
	lastSpokenAt time.Time
	closed       bool
	observers    []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDebouncer creates a debouncer speaking through speaker.
func NewDebouncer(speaker Speaker, cfg Config) *Debouncer {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = DefaultCooldown
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		speaker:  speaker,
		clock:    cfg.Clock,
		cooldown: cfg.Cooldown,
		timeout:  cfg.Timeout,
		phase:    Idle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnUtterance registers an observer. Observers run on the speech goroutine
// after the debouncer is back to Idle.
func (d *Debouncer) OnUtterance(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Offer speaks a.Message if the debouncer is idle and the message is new or
// the cooldown has elapsed since the last utterance. It never blocks on the
// speech engine and reports whether the message was dispatched.
func (d *Debouncer) Offer(a Announcement) bool {
	d.mu.Lock()
	now := d.clock.Now()
	if d.closed || d.phase == Speaking {
		d.mu.Unlock()
		return false
	}
	if a.Message == d.lastMessage && now.Sub(d.lastSpokenAt) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.phase = Speaking
	d.lastMessage = a.Message
	d.lastSpokenAt = now
	d.wg.Add(1)
	d.mu.Unlock()

	go d.speak(a, now)
	return true
}

func (d *Debouncer) speak(a Announcement, started time.Time) {
	defer d.wg.Done()

	err := d.run(a.Message)
	if err != nil {
		err = xerrors.New(err)
		logger.Warn("Voice", "speech failed for %q: %v", a.Message, err)
	} else {
		logger.Debug("Voice", "spoke %q", a.Message)
	}

	d.mu.Lock()
	d.phase = Idle
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	u := Utterance{
		Announcement: a,
		StartedAt:    started,
		Duration:     d.clock.Since(started),
		Err:          err,
	}
	for _, o := range observers {
		o(u)
	}
}

// run invokes the speaker, converting a panic into an error so the state
// machine always returns to Idle.
func (d *Debouncer) run(message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speaker panic: %v", r)
		}
	}()

	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.speaker.Speak(ctx, message)
}

// Status returns the current debouncer state.
func (d *Debouncer) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Phase: d.phase, LastMessage: d.lastMessage, LastSpokenAt: d.lastSpokenAt}
}

// Wait blocks until no utterance is in flight.
func (d *Debouncer) Wait() {
	d.wg.Wait()
}

// Close rejects further offers and waits for the in-flight utterance. If ctx
// expires first the utterance is cancelled.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
