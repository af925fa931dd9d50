// Copyright 2025 Settlenet
//
// Package logging provides the structured logger used by the core netting,
// batch, settlement, and indexing paths.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level mirrors slog's levels with the names used in config files.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a Logger.
type Config struct {
	Level       Level
	Output      io.Writer
	ServiceName string
	Environment string
	JSON        bool
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Level:       LevelInfo,
		Output:      os.Stdout,
		ServiceName: "settlenet-validator",
		Environment: "development",
		JSON:        false,
	}
}

// Logger wraps slog.Logger with the service/environment attributes
// pre-bound so every call site logs with consistent context.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	base := slog.New(handler).With(
		"service", cfg.ServiceName,
		"env", cfg.Environment,
	)
	return &Logger{Logger: base}
}

// With returns a child Logger with the given attributes bound.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithBatch binds a batch_id attribute, the single most common correlation
// key across the batch lifecycle (assemble, net, commit, settle, index).
func (l *Logger) WithBatch(batchID string) *Logger {
	return l.With("batch_id", batchID)
}
