// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"stockalert/internal/config"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Output     io.Writer
}

// FromConfig converts the [logging] section into a LogConfig.
func FromConfig(cfg config.LoggingConfig) LogConfig {
	return LogConfig{
		Level:      cfg.Level,
		Console:    cfg.Console,
		File:       cfg.File,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
}

// NewLogger creates a new logger with the specified configuration.
func NewLogger(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = out
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithKind adds an entity kind to the logger context.
func WithKind(logger zerolog.Logger, kind string) zerolog.Logger {
	return logger.With().Str("kind", kind).Logger()
}

// LogTrigger logs an alert transition to Triggered.
func LogTrigger(logger zerolog.Logger, alertID, kind, entityID string, threshold, value float64) {
	logger.Info().
		Str("event", "alert_triggered").
		Str("alert_id", alertID).
		Str("kind", kind).
		Str("entity", entityID).
		Float64("threshold", threshold).
		Float64("value", value).
		Msg("Alert triggered")
}

// LogFetch logs the outcome of one fetch.
func LogFetch(logger zerolog.Logger, kind string, count int, duration time.Duration, err error) {
	if err != nil {
		logger.Warn().
			Str("event", "fetch").
			Str("kind", kind).
			Dur("duration", duration).
			Err(err).
			Msg("Fetch failed, keeping previous observations")
		return
	}
	logger.Debug().
		Str("event", "fetch").
		Str("kind", kind).
		Int("count", count).
		Dur("duration", duration).
		Msg("Fetch completed")
}
