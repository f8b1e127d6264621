// Package config loads the service configuration. Values come from, in
// increasing precedence: built-in defaults, a YAML file, a .env file and the
// process environment, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// Capture sources.
const (
	SourceSynthetic = "synthetic"
	SourceDir       = "dir"
	SourceWebcam    = "webcam"
)

// Detector backends.
const (
	DetectorNone = "none"
	DetectorONNX = "onnx"
)

// Speech engines.
const (
	VoiceEspeak  = "espeak"
	VoiceCommand = "command"
	VoiceGoogle  = "google"
	VoiceLog     = "log"
)

// Config represents the complete service configuration
type Config struct {
	Server            ServerConfig   `yaml:"server"`
	Capture           CaptureConfig  `yaml:"capture"`
	Detector          DetectorConfig `yaml:"detector"`
	Warning           WarningConfig  `yaml:"warning"`
	Voice             VoiceConfig    `yaml:"voice"`
	Video             VideoConfig    `yaml:"video"`
	AlertLog          AlertLogConfig `yaml:"alert_log"`
	MQTT              MQTTConfig     `yaml:"mqtt"`
	WebRTC            WebRTCConfig   `yaml:"webrtc"`
	Log               LogConfig      `yaml:"log"`
	AnnouncePathClear bool           `yaml:"announce_path_clear"`
	MaxDetectFailures int            `yaml:"max_detect_failures"`
	ShutdownTimeout   time.Duration  `yaml:"shutdown_timeout"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables
	PprofAddr   string `yaml:"pprof_addr"`   // empty disables
	StaticDir   string `yaml:"static_dir"`
}

// CaptureConfig selects and tunes the frame source
type CaptureConfig struct {
	Source string `yaml:"source"` // synthetic, dir, webcam
	Device string `yaml:"device"` // webcam index or URL
	Dir    string `yaml:"dir"`
	Loop   bool   `yaml:"loop"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Limit  int    `yaml:"limit"` // synthetic frames per run, 0 is unlimited
}

// DetectorConfig selects the object detector
type DetectorConfig struct {
	Backend     string  `yaml:"backend"` // none, onnx
	ModelPath   string  `yaml:"model_path"`
	LibraryPath string  `yaml:"library_path"`
	InputSize   int     `yaml:"input_size"`
	Confidence  float64 `yaml:"confidence"`
	IoU         float64 `yaml:"iou"`
}

// WarningConfig holds classification thresholds and spoken phrases
type WarningConfig struct {
	TrackedClasses      []string        `yaml:"tracked_classes"`
	DangerArea          int             `yaml:"danger_area"`
	CrowdThreshold      int             `yaml:"crowd_threshold"`
	BrightnessThreshold float64         `yaml:"brightness_threshold"`
	ContrastThreshold   float64         `yaml:"contrast_threshold"`
	VisibilitySample    int             `yaml:"visibility_sample"`
	Phrases             warning.Phrases `yaml:"phrases"`
}

// VoiceConfig selects the speech engine and debounce timing
type VoiceConfig struct {
	Engine       string        `yaml:"engine"` // espeak, command, google, log
	Rate         int           `yaml:"rate"`
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	Cooldown     time.Duration `yaml:"cooldown"`
	Timeout      time.Duration `yaml:"timeout"`
	GoogleAPIKey string        `yaml:"google_api_key"`
	Language     string        `yaml:"language"`
	Player       []string      `yaml:"player"`
}

// VideoConfig controls the annotated JPEG stream
type VideoConfig struct {
	Quality   int           `yaml:"quality"`
	Annotate  bool          `yaml:"annotate"`
	KeepAlive time.Duration `yaml:"keepalive"`
}

// AlertLogConfig locates the alert history database
type AlertLogConfig struct {
	Path string `yaml:"path"` // empty disables
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WebRTCConfig controls the data channel warning feed
type WebRTCConfig struct {
	Enabled     bool     `yaml:"enabled"`
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// LogConfig controls logger output
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	scene := warning.DefaultSceneConfig()
	return Config{
		Server: ServerConfig{
			Addr:        ":8000",
			MetricsAddr: ":9090",
			PprofAddr:   "",
		},
		Capture: CaptureConfig{
			Source: SourceWebcam,
			Device: "0",
			Width:  640,
			Height: 480,
			FPS:    15,
		},
		Detector: DetectorConfig{
			Backend:    DetectorONNX,
			ModelPath:  "models/yolov8n.onnx",
			InputSize:  640,
			Confidence: 0.25,
			IoU:        0.45,
		},
		Warning: WarningConfig{
			TrackedClasses:      scene.TrackedClasses,
			DangerArea:          scene.DangerArea,
			CrowdThreshold:      scene.CrowdThreshold,
			BrightnessThreshold: scene.BrightnessThreshold,
			ContrastThreshold:   scene.ContrastThreshold,
			Phrases:             warning.DefaultPhrases(),
		},
		Voice: VoiceConfig{
			Engine:   VoiceEspeak,
			Rate:     voice.DefaultRate,
			Cooldown: voice.DefaultCooldown,
			Timeout:  voice.DefaultTimeout,
			Language: "en-US",
			Player:   []string{"mpg123", "-q", "-"},
		},
		Video: VideoConfig{
			Quality:   80,
			Annotate:  true,
			KeepAlive: 5 * time.Second,
		},
		AlertLog: AlertLogConfig{Path: "data/alerts.db"},
		MQTT: MQTTConfig{
			Topic: "vision-safe-nav/alerts",
		},
		WebRTC: WebRTCConfig{
			Enabled:     true,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
		Log:               LogConfig{Level: "info", Color: true},
		AnnouncePathClear: true,
		MaxDetectFailures: 10,
		ShutdownTimeout:   5 * time.Second,
	}
}

// LoadFile merges the YAML file at path over cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from environment variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("NAV_HTTP_ADDR", &cfg.Server.Addr)
	str("NAV_METRICS_ADDR", &cfg.Server.MetricsAddr)
	str("NAV_SOURCE", &cfg.Capture.Source)
	str("NAV_DEVICE", &cfg.Capture.Device)
	str("NAV_CAPTURE_DIR", &cfg.Capture.Dir)
	integer("NAV_FPS", &cfg.Capture.FPS)
	str("NAV_DETECTOR", &cfg.Detector.Backend)
	str("NAV_MODEL_PATH", &cfg.Detector.ModelPath)
	str("NAV_ORT_LIB", &cfg.Detector.LibraryPath)
	integer("NAV_DANGER_AREA", &cfg.Warning.DangerArea)
	integer("NAV_CROWD_THRESHOLD", &cfg.Warning.CrowdThreshold)
	str("NAV_VOICE", &cfg.Voice.Engine)
	duration("NAV_COOLDOWN", &cfg.Voice.Cooldown)
	str("GOOGLE_TTS_API_KEY", &cfg.Voice.GoogleAPIKey)
	str("NAV_ALERT_DB", &cfg.AlertLog.Path)
	str("NAV_MQTT_BROKER", &cfg.MQTT.Broker)
	str("NAV_MQTT_USERNAME", &cfg.MQTT.Username)
	str("NAV_MQTT_PASSWORD", &cfg.MQTT.Password)
	boolean("NAV_WEBRTC", &cfg.WebRTC.Enabled)
	boolean("NAV_ANNOUNCE_PATH_CLEAR", &cfg.AnnouncePathClear)
	str("NAV_LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Server.Addr, "http", c.Server.Addr, "HTTP server address")
	fs.StringVar(&c.Server.MetricsAddr, "metrics", c.Server.MetricsAddr, "Metrics server address (empty disables)")
	fs.StringVar(&c.Server.PprofAddr, "pprof", c.Server.PprofAddr, "pprof server address (empty disables)")
	fs.StringVar(&c.Server.StaticDir, "static", c.Server.StaticDir, "Directory overriding the bundled web assets")
	fs.StringVar(&c.Capture.Source, "source", c.Capture.Source, "Frame source (synthetic, dir, webcam)")
	fs.StringVar(&c.Capture.Device, "device", c.Capture.Device, "Webcam index or stream URL")
	fs.StringVar(&c.Capture.Dir, "dir", c.Capture.Dir, "Image directory for the dir source")
	fs.BoolVar(&c.Capture.Loop, "loop", c.Capture.Loop, "Loop the image directory")
	fs.IntVar(&c.Capture.FPS, "fps", c.Capture.FPS, "Capture frame rate")
	fs.StringVar(&c.Detector.Backend, "detector", c.Detector.Backend, "Detector backend (none, onnx)")
	fs.StringVar(&c.Detector.ModelPath, "model", c.Detector.ModelPath, "YOLOv8 ONNX model path")
	fs.StringVar(&c.Detector.LibraryPath, "ort-lib", c.Detector.LibraryPath, "onnxruntime shared library path")
	fs.StringVar(&c.Voice.Engine, "voice", c.Voice.Engine, "Speech engine (espeak, command, google, log)")
	fs.DurationVar(&c.Voice.Cooldown, "cooldown", c.Voice.Cooldown, "Minimum gap before repeating a message")
	fs.StringVar(&c.AlertLog.Path, "alert-db", c.AlertLog.Path, "Alert history database (empty disables)")
	fs.StringVar(&c.MQTT.Broker, "mqtt-broker", c.MQTT.Broker, "MQTT broker for alert fan-out (empty disables)")
	fs.BoolVar(&c.WebRTC.Enabled, "webrtc", c.WebRTC.Enabled, "Enable the WebRTC warning feed")
	fs.IntVar(&c.WebRTC.MaxClients, "max-clients", c.WebRTC.MaxClients, "Maximum WebRTC clients")
	fs.BoolVar(&c.AnnouncePathClear, "announce-path-clear", c.AnnouncePathClear, "Speak \"path clear\" when nothing is detected")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.Log.Color, "log-color", c.Log.Color, "Enable colored log output")
}

// Load resolves the configuration from args and the environment. args
// excludes the program name.
func Load(args []string, lookup LookupFunc, usage io.Writer) (*Config, error) {
	// First pass only finds -config and -env-file; flags are re-applied last.
	first := DefaultConfig()
	fs := newFlagSet(&first, usage)
	configPath := fs.String("config", "", "YAML config file")
	envFile := fs.String("env-file", ".env", "dotenv file loaded into the environment if present")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", *envFile, err)
		}
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		if err := LoadFile(*configPath, &cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	final := newFlagSet(&cfg, io.Discard)
	final.String("config", "", "")
	final.String("env-file", "", "")
	if err := final.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func newFlagSet(cfg *Config, usage io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("vision-safe-nav", flag.ContinueOnError)
	fs.SetOutput(usage)
	cfg.bindFlags(fs)
	return fs
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")

	switch c.Capture.Source {
	case SourceSynthetic, SourceWebcam:
	case SourceDir:
		check(c.Capture.Dir != "", "capture.dir is required for the dir source")
	default:
		check(false, "unknown capture source %q", c.Capture.Source)
	}
	check(c.Capture.FPS >= 0, "capture.fps must not be negative")
	check(c.Capture.Width > 0 && c.Capture.Height > 0, "capture size must be positive")

	switch c.Detector.Backend {
	case DetectorNone:
	case DetectorONNX:
		check(c.Detector.ModelPath != "", "detector.model_path is required for onnx")
		check(c.Detector.InputSize > 0 && c.Detector.InputSize%32 == 0, "detector.input_size must be a positive multiple of 32")
	default:
		check(false, "unknown detector backend %q", c.Detector.Backend)
	}
	check(c.Detector.Confidence >= 0 && c.Detector.Confidence <= 1, "detector.confidence must be in [0,1]")
	check(c.Detector.IoU >= 0 && c.Detector.IoU <= 1, "detector.iou must be in [0,1]")

	check(c.Warning.DangerArea >= 0, "warning.danger_area must not be negative")
	check(c.Warning.CrowdThreshold >= 0, "warning.crowd_threshold must not be negative")
	check(c.Warning.BrightnessThreshold >= 0, "warning.brightness_threshold must not be negative")
	check(c.Warning.ContrastThreshold >= 0, "warning.contrast_threshold must not be negative")
	check(strings.Contains(c.Warning.Phrases.Object, "{object}"), "warning.phrases.object must contain {object}")

	switch c.Voice.Engine {
	case VoiceEspeak, VoiceLog:
	case VoiceCommand:
		check(c.Voice.Command != "", "voice.command is required for the command engine")
	case VoiceGoogle:
		check(c.Voice.GoogleAPIKey != "", "GOOGLE_TTS_API_KEY is required for the google engine")
		check(len(c.Voice.Player) > 0, "voice.player is required for the google engine")
	default:
		check(false, "unknown voice engine %q", c.Voice.Engine)
	}
	check(c.Voice.Cooldown >= 0, "voice.cooldown must not be negative")
	check(c.Voice.Timeout >= 0, "voice.timeout must not be negative")

	check(c.Video.Quality >= 1 && c.Video.Quality <= 100, "video.quality must be in [1,100]")
	check(c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	check(!c.WebRTC.Enabled || c.WebRTC.MaxClients > 0, "webrtc.max_clients must be positive")
	check(c.ShutdownTimeout >= 0, "shutdown_timeout must not be negative")

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Scene returns the warning thresholds as a scene configuration.
func (c *Config) Scene() warning.SceneConfig {
	return warning.SceneConfig{
		TrackedClasses:      c.Warning.TrackedClasses,
		DangerArea:          c.Warning.DangerArea,
		CrowdThreshold:      c.Warning.CrowdThreshold,
		BrightnessThreshold: c.Warning.BrightnessThreshold,
		ContrastThreshold:   c.Warning.ContrastThreshold,
		VisibilitySample:    c.Warning.VisibilitySample,
	}
}
