package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Run state
	Running     atomic.Uint64 // 0 = stopped, 1 = running
	RunsStarted atomic.Uint64

	// Cycle counters
	CyclesCompleted atomic.Uint64
	CyclesSkipped   atomic.Uint64
	FramesPublished atomic.Uint64

	// Error counters
	CaptureErrors atomic.Uint64
	DetectErrors  atomic.Uint64
	SpeechErrors  atomic.Uint64
	EncodeErrors  atomic.Uint64

	// Warnings and speech
	WarningsRaised       atomic.Uint64
	UtterancesSpoken     atomic.Uint64
	UtterancesSuppressed atomic.Uint64

	// Latency tracking
	CycleLatencyMs  atomic.Uint64
	DetectLatencyMs atomic.Uint64

	// Consumers
	VideoClients  atomic.Int64
	WebRTCClients atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, load func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		load,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	i := func(v *atomic.Int64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	m.gauge("nav_running", "Detection loop running (0=stopped, 1=running)", u(&m.Running))
	m.gauge("nav_runs_started_total", "Total detection runs started", u(&m.RunsStarted))

	m.gauge("nav_cycles_completed_total", "Total detection cycles published", u(&m.CyclesCompleted))
	m.gauge("nav_cycles_skipped_total", "Total detection cycles skipped after a detector error", u(&m.CyclesSkipped))
	m.gauge("nav_frames_published_total", "Total annotated frames published", u(&m.FramesPublished))

	m.gauge("nav_capture_errors_total", "Total capture failures", u(&m.CaptureErrors))
	m.gauge("nav_detect_errors_total", "Total detector failures", u(&m.DetectErrors))
	m.gauge("nav_speech_errors_total", "Total speech engine failures", u(&m.SpeechErrors))
	m.gauge("nav_encode_errors_total", "Total frame encode failures", u(&m.EncodeErrors))

	m.gauge("nav_warnings_raised_total", "Total warnings produced by the scene aggregator", u(&m.WarningsRaised))
	m.gauge("nav_utterances_spoken_total", "Total voice alerts dispatched", u(&m.UtterancesSpoken))
	m.gauge("nav_utterances_suppressed_total", "Total voice alerts suppressed by the debouncer", u(&m.UtterancesSuppressed))

	m.gauge("nav_cycle_latency_ms", "Last detection cycle latency in milliseconds", u(&m.CycleLatencyMs))
	m.gauge("nav_detect_latency_ms", "Last detector latency in milliseconds", u(&m.DetectLatencyMs))

	m.gauge("nav_video_clients", "Number of connected MJPEG video clients", i(&m.VideoClients))
	m.gauge("nav_webrtc_clients", "Number of connected WebRTC warning feed clients", i(&m.WebRTCClients))
}

// UpdateCycleLatency records how long a detection cycle took
func (m *Metrics) UpdateCycleLatency(start time.Time) {
	m.CycleLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
}

// UpdateDetectLatency records how long the detector took
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetRunning sets the running gauge
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.Running.Store(1)
		return
	}
	m.Running.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
