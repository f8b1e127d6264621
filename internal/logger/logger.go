package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[string]string{
		"level=DEBUG": "\033[36m", // Cyan
		"level=INFO":  "\033[32m", // Green
		"level=WARN":  "\033[33m", // Yellow
		"level=ERROR": "\033[31m", // Red
	}

	resetColor = "\033[0m"
)

// slogLevel maps a LogLevel onto slog. SILENT sits above every level we emit.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// Logger provides leveled logging with module support
type Logger struct {
	level   *slog.LevelVar
	mu      sync.Mutex
	current LogLevel
	handler slog.Handler
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	if useColor {
		output = &colorWriter{out: output}
	}

	l := &Logger{
		level:   new(slog.LevelVar),
		current: level,
	}
	l.level.Set(level.slogLevel())
	l.handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.level})
	return l
}

// colorWriter wraps each record line in the ANSI colour of its level.
// The text handler issues exactly one Write per record.
type colorWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *colorWriter) Write(p []byte) (int, error) {
	line := string(p)
	color := ""
	for token, c := range levelColors {
		if strings.Contains(line, token) {
			color = c
			break
		}
	}
	if color == "" {
		return w.out.Write(p)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	body := strings.TrimSuffix(line, "\n")
	if _, err := io.WriteString(w.out, color+body+resetColor+"\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = level
	l.level.Set(level.slogLevel())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Module returns a *slog.Logger tagged with the given module, for
// components that prefer key/value logging.
func (l *Logger) Module(module string) *slog.Logger {
	return slog.New(l.handler).With("module", module)
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if level >= SILENT {
		return
	}
	lvl := level.slogLevel()
	ctx := context.Background()
	if !l.handler.Enabled(ctx, lvl) {
		return
	}

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	slog.New(l.handler).Log(ctx, lvl, msg, "module", module)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// Module returns a module-tagged slog logger backed by the global logger.
// Before Init it falls back to slog.Default.
func Module(module string) *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger.Module(module)
	}
	return slog.Default().With("module", module)
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
