// Package logging wraps log/slog with the control core's structured
// attribute conventions, grounded on
// engine/telemetry/logging/logging.go — trimmed of that file's
// trace/span correlation (spec.md's operations are tick-driven state
// machine transitions, not request-scoped spans; nothing in this module
// attaches span IDs to log records).
package logging

import (
	"log/slog"
)

// Logger is the minimal surface every package in this module logs
// through, so call sites never depend on slog directly.
type Logger interface {
	Debug(msg string, attrs ...any)
	Info(msg string, attrs ...any)
	Warn(msg string, attrs ...any)
	Error(msg string, attrs ...any)
	With(attrs ...any) Logger
}

type slogLogger struct{ base *slog.Logger }

// New wraps base, or slog.Default() if base is nil.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{base: base}
}

func (l *slogLogger) Debug(msg string, attrs ...any) { l.base.Debug(msg, attrs...) }
func (l *slogLogger) Info(msg string, attrs ...any)  { l.base.Info(msg, attrs...) }
func (l *slogLogger) Warn(msg string, attrs ...any)  { l.base.Warn(msg, attrs...) }
func (l *slogLogger) Error(msg string, attrs ...any) { l.base.Error(msg, attrs...) }

func (l *slogLogger) With(attrs ...any) Logger {
	return &slogLogger{base: l.base.With(attrs...)}
}

// ForFeeder returns a Logger scoped to one feeder (attribute key
// "feeder").
func ForFeeder(l Logger, name string) Logger { return l.With(slog.String("feeder", name)) }

// ForPS returns a Logger scoped to one pressure sensor.
func ForPS(l Logger, name string) Logger { return l.With(slog.String("ps", name)) }

// Discard returns a Logger that drops everything, used by tests that
// don't care about log output.
func Discard() Logger { return New(slog.New(slog.DiscardHandler)) }
