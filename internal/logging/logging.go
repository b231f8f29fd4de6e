// Package logging wires slog for the kapt daemon: a structured JSON logger on
// stdout, a human-readable text logger on stderr, and optional rotated file
// loggers backed by lumberjack.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger

	structuredLevel    = new(slog.LevelVar)
	humanReadableLevel = new(slog.LevelVar)
)

// RotationPolicy selects how file logs are rotated.
type RotationPolicy string

const (
	RotationDaily  RotationPolicy = "daily"
	RotationWeekly RotationPolicy = "weekly"
	RotationSize   RotationPolicy = "size"
)

// FileConfig configures a rotated file logger.
type FileConfig struct {
	Path     string
	Rotation RotationPolicy
	MaxSize  int64 // bytes, used with RotationSize
	Compress bool
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		label, exists := levelNames[level]
		if !exists {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

// swapWriter lets loggers created at package init follow later output
// changes.
type swapWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *swapWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *swapWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

var (
	structuredOut    = &swapWriter{w: os.Stdout}
	humanReadableOut = &swapWriter{w: os.Stderr}
)

func init() {
	Init()
}

// Init points the structured (JSON) logger at stdout and the human-readable
// (text) logger at stderr, and makes the structured one the slog default.
func Init() {
	SetOutput(os.Stdout, os.Stderr)
}

// SetOutput redirects both loggers. Levels and loggers already handed out
// are preserved.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	structuredOut.set(structuredOutput)
	humanReadableOut.set(humanReadableOutput)

	if structuredLogger == nil {
		structuredLogger = slog.New(slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
			Level:       structuredLevel,
			ReplaceAttr: replaceLevel,
		}))
		humanReadableLogger = slog.New(slog.NewTextHandler(humanReadableOut, &slog.HandlerOptions{
			Level:       humanReadableLevel,
			ReplaceAttr: replaceLevel,
		}))
	}

	slog.SetDefault(structuredLogger)
}

// EnableFileOutput copies structured output into a rotated log file. The
// returned function restores stdout-only output and closes the file.
func EnableFileOutput(cfg FileConfig) (func() error, error) {
	writer, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	SetOutput(io.MultiWriter(os.Stdout, writer), os.Stderr)
	return func() error {
		Init()
		return writer.Close()
	}, nil
}

// SetLevel sets the minimum level for both loggers. Safe to call at runtime.
func SetLevel(level slog.Level) {
	structuredLevel.Set(level)
	humanReadableLevel.Set(level)
}

// ParseLevel maps a config string to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Structured returns the structured logger.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the text logger writing to stderr.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService returns the structured logger tagged with a service attribute.
// Returns nil only if the loggers have not been set up.
func ForService(serviceName string) *slog.Logger {
	l := Structured()
	if l == nil {
		return nil
	}
	return l.With("service", serviceName)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// rotationLimits converts a FileConfig into lumberjack size/backup/age limits.
func rotationLimits(cfg FileConfig) (maxSizeMB, maxBackups, maxAgeDays int) {
	maxSizeMB, maxBackups, maxAgeDays = 100, 3, 28

	if mb := int(cfg.MaxSize / (1024 * 1024)); mb > 0 {
		maxSizeMB = mb
	}

	switch cfg.Rotation {
	case RotationDaily:
		maxAgeDays, maxBackups = 1, 30
	case RotationWeekly:
		maxAgeDays, maxBackups = 7, 4
	case RotationSize, "":
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", cfg.Rotation)
	}
	return maxSizeMB, maxBackups, maxAgeDays
}

func newRotatingWriter(cfg FileConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}

	if logDir := filepath.Dir(cfg.Path); logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	maxSizeMB, maxBackups, maxAge := rotationLimits(cfg)
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   cfg.Compress,
	}, nil
}

// NewFileLogger creates a JSON logger writing to cfg.Path through lumberjack.
// It returns the logger and a close function for the underlying writer.
func NewFileLogger(cfg FileConfig, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	writer, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	})

	return slog.New(handler).With("service", serviceName), writer.Close, nil
}
