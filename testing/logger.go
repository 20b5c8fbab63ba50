package testing

import (
	"testing"

	"github.com/arloliu/streamd/types"
)

// NewTestLogger returns a types.Logger that routes every message through
// t.Logf, so orchestrator log output shows up interleaved with test output
// and only when a test fails or -v is set.
func NewTestLogger(t *testing.T) types.Logger {
	return &testLogger{t: t}
}

type testLogger struct {
	t *testing.T
}

var _ types.Logger = (*testLogger)(nil)

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	l.t.Helper()
	l.t.Logf("%s: %s %v", level, msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.log("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.log("INFO", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...any) {
	l.log("WARN", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.log("ERROR", msg, keysAndValues)
}
