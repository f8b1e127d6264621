package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Craftycody123/vision-safe-nav/internal/alertlog"
	"github.com/Craftycody123/vision-safe-nav/internal/annotate"
	"github.com/Craftycody123/vision-safe-nav/internal/capture"
	"github.com/Craftycody123/vision-safe-nav/internal/capture/webcam"
	"github.com/Craftycody123/vision-safe-nav/internal/config"
	"github.com/Craftycody123/vision-safe-nav/internal/detector"
	"github.com/Craftycody123/vision-safe-nav/internal/detector/onnx"
	"github.com/Craftycody123/vision-safe-nav/internal/emitter"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/metrics"
	"github.com/Craftycody123/vision-safe-nav/internal/pipeline"
	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
	"github.com/Craftycody123/vision-safe-nav/internal/webrtc"
	"github.com/Craftycody123/vision-safe-nav/internal/webserver"
)

// Server is the navigation assistant process
type Server struct {
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	store      *state.Store
	voice      *voice.Debouncer
	controller *pipeline.Controller
	detector   detector.Detector
	alerts     *alertlog.Store
	mqtt       *emitter.MQTTEmitter
	webrtc     *webrtc.Server
	httpServer *http.Server
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Navigation server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// NewServer wires every component from cfg. Nothing is started yet.
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.New(),
		store:   state.NewStore(),
	}

	source, err := newSource(cfg.Capture)
	if err != nil {
		cancel()
		return nil, err
	}

	det, err := newDetector(cfg.Detector)
	if err != nil {
		cancel()
		return nil, err
	}
	s.detector = det

	speaker, err := newSpeaker(cfg.Voice)
	if err != nil {
		s.closeDetector()
		cancel()
		return nil, err
	}
	s.voice = voice.NewDebouncer(speaker, voice.Config{
		Cooldown: cfg.Voice.Cooldown,
		Timeout:  cfg.Voice.Timeout,
	})

	if cfg.AlertLog.Path != "" {
		alerts, err := alertlog.Open(cfg.AlertLog.Path)
		if err != nil {
			s.closeDetector()
			cancel()
			return nil, fmt.Errorf("failed to open alert log: %w", err)
		}
		s.alerts = alerts
		s.voice.OnUtterance(alerts.Observer())
	}

	if cfg.MQTT.Broker != "" {
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		em, err := emitter.Connect(connectCtx, emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		connectCancel()
		if err != nil {
			// Alerts still go to the speaker and the local log.
			logger.Warn("Main", "MQTT disabled: %v", err)
		} else {
			s.mqtt = em
			s.voice.OnUtterance(em.Observer())
		}
	}

	controller, err := pipeline.New(pipeline.Deps{
		Source:   source,
		Detector: det,
		Scene:    warning.NewScene(cfg.Scene()),
		Voice:    s.voice,
		Encoder:  annotate.NewEncoder(cfg.Video.Quality, cfg.Video.Annotate, cfg.Warning.Phrases),
		Store:    s.store,
		Metrics:  s.metrics,
	}, pipeline.Config{
		Phrases:           cfg.Warning.Phrases,
		AnnouncePathClear: cfg.AnnouncePathClear,
		MaxDetectFailures: cfg.MaxDetectFailures,
	})
	if err != nil {
		s.closeResources()
		cancel()
		return nil, err
	}
	s.controller = controller

	deps := webserver.Deps{
		Controller: controller,
		Store:      s.store,
		Voice:      s.voice,
		Metrics:    s.metrics,
	}
	if s.alerts != nil {
		deps.Alerts = s.alerts
	}
	if cfg.WebRTC.Enabled {
		s.webrtc = webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients)
		s.webrtc.OnClientCount(func(n int) { s.metrics.WebRTCClients.Store(int64(n)) })
		deps.WebRTC = s.webrtc
	}

	web, err := webserver.NewServer(webserver.Config{
		Addr:        cfg.Server.Addr,
		StaticDir:   cfg.Server.StaticDir,
		KeepAlive:   cfg.Video.KeepAlive,
		BlankWidth:  cfg.Capture.Width,
		BlankHeight: cfg.Capture.Height,
	}, deps)
	if err != nil {
		s.closeResources()
		cancel()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams watch the request context; cancelling s.ctx ends them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

func newSource(c config.CaptureConfig) (capture.Source, error) {
	switch c.Source {
	case config.SourceSynthetic:
		return capture.NewSynthetic(c.Width, c.Height, c.FPS, c.Limit), nil
	case config.SourceDir:
		return capture.NewDir(c.Dir, c.Loop, c.FPS), nil
	case config.SourceWebcam:
		return webcam.New(c.Device, c.Width, c.Height), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", c.Source)
	}
}

func newDetector(c config.DetectorConfig) (detector.Detector, error) {
	switch c.Backend {
	case config.DetectorNone:
		logger.Warn("Main", "No detector configured; only visibility warnings will be raised")
		return detector.Nop{}, nil
	case config.DetectorONNX:
		det, err := onnx.New(onnx.Config{
			ModelPath:   c.ModelPath,
			LibraryPath: c.LibraryPath,
			InputSize:   c.InputSize,
			Confidence:  float32(c.Confidence),
			IoU:         c.IoU,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load detector: %w", err)
		}
		return det, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", c.Backend)
	}
}

func newSpeaker(c config.VoiceConfig) (voice.Speaker, error) {
	switch c.Engine {
	case config.VoiceEspeak:
		return voice.NewEspeak(c.Rate), nil
	case config.VoiceCommand:
		return &voice.CommandSpeaker{Path: c.Command, Args: c.Args}, nil
	case config.VoiceGoogle:
		g := voice.NewGoogleTTS(c.GoogleAPIKey)
		if c.Language != "" {
			g.LanguageCode = c.Language
		}
		if len(c.Player) > 0 {
			g.Player = c.Player
		}
		g.Client = &http.Client{Timeout: 10 * time.Second}
		return g, nil
	case config.VoiceLog:
		return voice.LogSpeaker{}, nil
	default:
		return nil, fmt.Errorf("unknown voice engine %q", c.Engine)
	}
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting navigation server...")
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.Addr)
	logger.Info("Main", "  Capture: %s", s.cfg.Capture.Source)
	logger.Info("Main", "  Detector: %s", s.cfg.Detector.Backend)
	logger.Info("Main", "  Voice: %s (cooldown %s)", s.cfg.Voice.Engine, s.cfg.Voice.Cooldown)

	if addr := s.cfg.Server.PprofAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", addr)
			if err := s.metrics.StartServer(addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if s.webrtc != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.webrtc.Follow(s.ctx, s.store)
		}()
	}

	logger.Info("Main", "Server started; POST /start to begin detection")
	return nil
}

// Shutdown stops detection, waits for the last utterance and closes every
// component.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.controller.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}

	// Ends video, event and WebRTC feeds.
	s.cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if s.webrtc != nil {
		_ = s.webrtc.Close()
	}
	s.wg.Wait()

	s.closeResources()
	return errors.Join(errs...)
}

func (s *Server) closeResources() {
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	if s.alerts != nil {
		if err := s.alerts.Close(); err != nil {
			logger.Warn("Main", "alert log close: %v", err)
		}
	}
	s.closeDetector()
}

func (s *Server) closeDetector() {
	if c, ok := s.detector.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Main", "detector close: %v", err)
		}
	}
}
