package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Pipeline", "cycle %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("Pipeline", "detector failed: %s", "timeout")
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "module=Pipeline")
	assert.Contains(t, out, "detector failed: timeout")
}

func TestLoggerSetLevelAndSilent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(INFO, &buf, false)
	l.SetLevel(SILENT)
	assert.Equal(t, SILENT, l.GetLevel())

	l.Error("Voice", "speech failed")
	assert.Empty(t, buf.String())

	l.SetLevel(DEBUG)
	l.Debug("Voice", "speaking %q", "person left")
	assert.Contains(t, buf.String(), `speaking \"person left\"`)
}

func TestLoggerColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(INFO, &buf, true)
	l.Error("Server", "boom")
	assert.Contains(t, buf.String(), "\033[31m")
}

func TestModuleLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(INFO, &buf, false)
	l.Module("Alerts").Info("recorded", "message", "chair ahead")
	assert.Contains(t, buf.String(), "module=Alerts")
	assert.Contains(t, buf.String(), `message="chair ahead"`)
}
