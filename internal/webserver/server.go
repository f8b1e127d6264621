// Package webserver exposes the navigation pipeline over HTTP: run control,
// status snapshots, the annotated MJPEG feed and push channels for browsers.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Craftycody123/vision-safe-nav/internal/alertlog"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/metrics"
	"github.com/Craftycody123/vision-safe-nav/internal/pipeline"
	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
)

// Controller is the run state machine driven by /start and /stop.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop() string
	Status() pipeline.Status
	RunID() string
}

// AlertSource lists spoken alerts, newest first.
type AlertSource interface {
	Recent(ctx context.Context, limit int) ([]alertlog.Alert, error)
}

// OfferHandler negotiates WebRTC peers for the warning feed.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// VoiceStatus reports the debouncer state.
type VoiceStatus interface {
	Status() voice.Status
}

// Deps are the components the server reads from. Alerts and WebRTC are
// optional; their endpoints answer 503 when unset.
type Deps struct {
	Controller Controller
	Store      *state.Store
	Voice      VoiceStatus
	Alerts     AlertSource
	WebRTC     OfferHandler
	Metrics    *metrics.Metrics
}

// Server serves the navigation endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	started time.Time
}

// NewServer returns a configured server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Controller == nil || deps.Store == nil {
		return nil, fmt.Errorf("webserver: controller and store are required")
	}
	def := DefaultConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.EventKeepAlive <= 0 {
		cfg.EventKeepAlive = def.EventKeepAlive
	}
	if cfg.BlankWidth <= 0 || cfg.BlankHeight <= 0 {
		cfg.BlankWidth, cfg.BlankHeight = def.BlankWidth, def.BlankHeight
	}
	if cfg.AlertLimit <= 0 {
		cfg.AlertLimit = def.AlertLimit
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Server{cfg: cfg, deps: deps, started: time.Now()}, nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	assets := newAssetHandler(s.cfg.StaticDir)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", assets)).Methods(http.MethodGet)
	r.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/video", s.handleVideo).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/offer", s.handleOffer).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	return withCORS(r)
}

// withCORS allows any origin. Preflight requests are answered before routing
// so method-restricted routes do not reject them.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if page, ok := s.customIndex(); ok {
		http.ServeFile(w, r, page)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Controller.Start(r.Context())
	if err != nil {
		logger.Error("HTTP", "start failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": status})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": s.deps.Controller.Stop()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Controller.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
	s.streamStatus(w, r, useProtobuf)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	s.deps.Metrics.VideoClients.Add(1)
	defer s.deps.Metrics.VideoClients.Add(-1)
	s.streamMJPEG(w, r)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeJSONWithStatus(w, map[string]any{"error": "alert log is disabled"}, http.StatusServiceUnavailable)
		return
	}

	limit := s.cfg.AlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "limit must be a positive integer"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts, err := s.deps.Alerts.Recent(r.Context(), limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, alertlog.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	if alerts == nil {
		alerts = []alertlog.Alert{}
	}
	writeJSON(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC feed is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Controller.Status()
	payload := map[string]any{
		"status":         "ok",
		"running":        st.Running,
		"run_id":         s.deps.Controller.RunID(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"video_clients":  s.deps.Metrics.VideoClients.Load(),
		"webrtc_clients": 0,
	}
	if s.deps.WebRTC != nil {
		payload["webrtc_clients"] = s.deps.WebRTC.GetClientCount()
	}
	if s.deps.Voice != nil {
		payload["voice"] = s.deps.Voice.Status()
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
