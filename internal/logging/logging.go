// Package logging provides the process-wide structured logger used by every
// component of the proxy. It mirrors a small, well-known pattern: a single
// default *zap.Logger protected by a mutex, with named sub-loggers handed out
// to each subsystem so log lines carry a stable "logger" field.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   *zap.Logger = zap.NewNop()
)

// Init replaces the process-wide default logger. level is one of "debug",
// "info", "warn", "error"; an empty value falls back to "info" and an
// unrecognized value is rejected with an error. It must be called at
// startup, before any worker goroutines are spawned.
func Init(level string) error {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()

	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Log returns the process-wide default logger. Safe for concurrent use.
func Log() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// Named returns a sub-logger tagged with the given subsystem name, e.g.
// Named("mitm") for lines emitted by the MITM handler.
func Named(name string) *zap.Logger {
	return Log().Named(name)
}

// Sync flushes any buffered log entries. Call during shutdown.
func Sync() error {
	return Log().Sync()
}
