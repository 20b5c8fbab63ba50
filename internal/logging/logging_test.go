package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/types"
)

func newBufferedLogger(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})

	return NewSlog(slog.New(handler)), buf
}

func TestNewSlog(t *testing.T) {
	logger, _ := newBufferedLogger(slog.LevelDebug)

	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)
}

func TestNewSlogDefault(t *testing.T) {
	logger := NewSlogDefault()

	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)
}

func TestSlogLogger_Levels(t *testing.T) {
	tests := []struct {
		name string
		log  func(types.Logger)
		want []string
	}{
		{
			name: "debug",
			log:  func(l types.Logger) { l.Debug("debug message", "key", "value") },
			want: []string{"level=DEBUG", "debug message", "key=value"},
		},
		{
			name: "info",
			log:  func(l types.Logger) { l.Info("info message", "server_id", "relay-1") },
			want: []string{"level=INFO", "info message", "server_id=relay-1"},
		},
		{
			name: "warn",
			log:  func(l types.Logger) { l.Warn("warning message", "health", "warning") },
			want: []string{"level=WARN", "warning message", "health=warning"},
		},
		{
			name: "error",
			log:  func(l types.Logger) { l.Error("error message", "error", "timeout") },
			want: []string{"level=ERROR", "error message", "error=timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedLogger(slog.LevelDebug)

			tt.log(logger)

			for _, fragment := range tt.want {
				assert.Contains(t, buf.String(), fragment)
			}
		})
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedLogger(slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")

	assert.Empty(t, buf.String())

	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestSlogLogger_MultipleKeyValues(t *testing.T) {
	logger, buf := newBufferedLogger(slog.LevelInfo)

	logger.Info("instance health changed",
		"old_state", "Active",
		"new_state", "Failed",
		"server_id", "relay-3",
		"reason", "heartbeat_timeout")

	output := buf.String()
	assert.Contains(t, output, "instance health changed")
	assert.Contains(t, output, "old_state=Active")
	assert.Contains(t, output, "new_state=Failed")
	assert.Contains(t, output, "server_id=relay-3")
	assert.Contains(t, output, "reason=heartbeat_timeout")
}

func TestNopLogger(t *testing.T) {
	var logger types.Logger = NewNop()
	require.NotNil(t, logger)

	// All methods discard silently.
	logger.Debug("ignored", "k", "v")
	logger.Info("ignored")
	logger.Warn("ignored")
	logger.Error("ignored", "err", "nope")
}
