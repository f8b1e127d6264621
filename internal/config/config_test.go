package config

import (
	"image"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50000, cfg.Warning.DangerArea)
	assert.Equal(t, 5, cfg.Warning.CrowdThreshold)
	assert.Equal(t, voice.DefaultCooldown, cfg.Voice.Cooldown)
	assert.Equal(t, 170, cfg.Voice.Rate)
	assert.Equal(t, warning.DefaultPhrases(), cfg.Warning.Phrases)
	assert.True(t, cfg.AnnouncePathClear)

	scene := cfg.Scene()
	assert.Equal(t, cfg.Warning.TrackedClasses, scene.TrackedClasses)
	assert.Equal(t, cfg.Warning.CrowdThreshold, scene.CrowdThreshold)
}

func TestDefaultSceneMeasuresFullFrame(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = uint8(math.Max(0, math.Min(255, math.Round(128+30*rng.NormFloat64()))))
	}

	cfg := DefaultConfig()
	assert.Zero(t, cfg.Warning.VisibilitySample)

	full := warning.VisibilityDetector{
		Brightness: cfg.Warning.BrightnessThreshold,
		Contrast:   cfg.Warning.ContrastThreshold,
	}
	wantStats, wantLow := full.Check(img)

	ev := warning.NewScene(cfg.Scene()).Evaluate(img, nil)
	assert.Equal(t, wantStats, ev.Visibility)
	assert.Equal(t, wantLow, ev.LowVisible)
	assert.False(t, ev.LowVisible, "textured mid-gray frame is visible")
	assert.Empty(t, ev.Warnings)
}

func TestLoadPrecedence(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "nav.yaml", `
server:
  addr: ":7000"
capture:
  source: synthetic
  fps: 5
detector:
  backend: none
voice:
  engine: log
  cooldown: 2s
warning:
  danger_area: 30000
  phrases:
    path_clear: "all clear"
`)
	cfg, err := Load(
		[]string{"-config", path, "-env-file", "", "-fps", "12"},
		env(map[string]string{"NAV_HTTP_ADDR": ":7100", "NAV_FPS": "9", "NAV_COOLDOWN": "4s"}),
		io.Discard,
	)
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Server.Addr, "env beats file")
	assert.Equal(t, 12, cfg.Capture.FPS, "flag beats env")
	assert.Equal(t, 4*time.Second, cfg.Voice.Cooldown)
	assert.Equal(t, SourceSynthetic, cfg.Capture.Source)
	assert.Equal(t, 30000, cfg.Warning.DangerArea)
	assert.Equal(t, "all clear", cfg.Warning.Phrases.PathClear)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "Crowded area ahead", cfg.Warning.Phrases.Crowded)
	assert.Equal(t, 640, cfg.Capture.Width)
}

func TestLoadDotEnv(t *testing.T) {
	// godotenv writes the process environment, so this test is not parallel.
	envFile := writeFile(t, ".env", "NAV_TEST_ONLY_VOICE=log\n")
	t.Cleanup(func() { _ = os.Unsetenv("NAV_TEST_ONLY_VOICE") })

	lookup := func(key string) (string, bool) {
		if key == "NAV_VOICE" {
			return os.LookupEnv("NAV_TEST_ONLY_VOICE")
		}
		return "", false
	}
	cfg, err := Load([]string{"-env-file", envFile, "-detector", "none"}, lookup, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, VoiceLog, cfg.Voice.Engine)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load([]string{"-no-such-flag"}, env(nil), io.Discard)
	assert.Error(t, err)

	_, err = Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-env-file", ""}, env(nil), io.Discard)
	assert.ErrorContains(t, err, "failed to read config file")

	bad := writeFile(t, "bad.yaml", "server: [")
	_, err = Load([]string{"-config", bad, "-env-file", ""}, env(nil), io.Discard)
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load([]string{"-env-file", ""}, env(map[string]string{"NAV_COOLDOWN": "soon"}), io.Discard)
	assert.ErrorContains(t, err, "NAV_COOLDOWN")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Capture.Source = "ftp" }, `unknown capture source "ftp"`},
		{"dir without path", func(c *Config) { c.Capture.Source = SourceDir }, "capture.dir is required"},
		{"onnx without model", func(c *Config) { c.Detector.ModelPath = "" }, "detector.model_path is required"},
		{"unknown detector", func(c *Config) { c.Detector.Backend = "tflite" }, "unknown detector backend"},
		{"negative area", func(c *Config) { c.Warning.DangerArea = -1 }, "danger_area must not be negative"},
		{"google without key", func(c *Config) { c.Voice.Engine = VoiceGoogle }, "GOOGLE_TTS_API_KEY"},
		{"command without path", func(c *Config) { c.Voice.Engine = VoiceCommand }, "voice.command is required"},
		{"negative cooldown", func(c *Config) { c.Voice.Cooldown = -time.Second }, "cooldown must not be negative"},
		{"bad quality", func(c *Config) { c.Video.Quality = 0 }, "video.quality"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"phrase without object", func(c *Config) { c.Warning.Phrases.Object = "look out" }, "{object}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	zero := DefaultConfig()
	zero.Voice.Cooldown = 0
	assert.NoError(t, zero.Validate(), "zero cooldown is allowed")
}

func TestApplyEnvLeavesUnsetFields(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg, env(map[string]string{
		"GOOGLE_TTS_API_KEY":      "k",
		"NAV_ANNOUNCE_PATH_CLEAR": "false",
		"NAV_MODEL_PATH":          "",
	})))

	want := DefaultConfig()
	want.Voice.GoogleAPIKey = "k"
	want.AnnouncePathClear = false
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}
