// Package logging provides the built-in types.Logger implementations: a
// log/slog adapter used by default and a no-op logger for tests and for
// deployments that silence the orchestrator entirely.
package logging

import (
	"log/slog"
	"os"

	"github.com/arloliu/streamd/types"
)

// SlogLogger adapts a *slog.Logger to the types.Logger interface.
//
// The adapter is a plain passthrough: levels map one to one and the
// alternating key-value arguments are handed to slog untouched, so handler
// configuration (format, level, output) stays fully in the caller's hands.
type SlogLogger struct {
	logger *slog.Logger
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps an existing slog.Logger.
//
// Use this to route orchestrator logs through an application's configured
// logging pipeline:
//
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	logger := logging.NewSlog(slog.New(handler))
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogDefault returns a text logger writing to stderr at Info level, a
// reasonable starting point for services without a logging pipeline of
// their own.
func NewSlogDefault() *SlogLogger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})

	return &SlogLogger{logger: slog.New(handler)}
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

// Info logs at info level.
func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

// Error logs at error level.
func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

// NopLogger discards every message. Hook runners and tests use it when no
// real logger is wired in.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop returns a logger that discards all messages.
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the message.
func (n *NopLogger) Debug(_ /* msg */ string, _ /* keysAndValues */ ...any) {}

// Info discards the message.
func (n *NopLogger) Info(_ /* msg */ string, _ /* keysAndValues */ ...any) {}

// Warn discards the message.
func (n *NopLogger) Warn(_ /* msg */ string, _ /* keysAndValues */ ...any) {}

// Error discards the message.
func (n *NopLogger) Error(_ /* msg */ string, _ /* keysAndValues */ ...any) {}
