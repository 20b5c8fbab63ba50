package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/breaker"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/internal/store"
)

// NewTestStore wires a complete storage layer against an embedded NATS
// server, with buckets ensured and test-friendly pool and retry settings.
//
// Each test should start its own embedded server, so the bucket prefix is
// fixed and isolation comes from the server itself.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection (from StartEmbeddedNATS)
//
// Returns:
//   - *store.Store: Ready-to-use storage layer
//
// Example:
//
//	func TestAssignments(t *testing.T) {
//	    _, nc := streamdtest.StartEmbeddedNATS(t)
//	    st := streamdtest.NewTestStore(t, nc)
//	    // Use st for testing
//	}
func NewTestStore(t *testing.T, nc *nats.Conn) *store.Store {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to get JetStream context: %v", err)
	}

	logger := NewTestLogger(t)
	nopMetrics := metrics.NewNop()

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  2 * time.Second,
	}, nil, logger, nopMetrics)

	guard := breaker.NewGuard(registry, breaker.RetryConfig{
		MaxAttempts:     2,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		ExponentialBase: 2.0,
	}, natsutil.IsTransient, logger, nopMetrics)

	st := store.New(js, store.Config{
		BucketPrefix:   "streamdtest",
		MaxInFlight:    8,
		AcquireTimeout: 500 * time.Millisecond,
		CASMaxRetries:  5,
		HeartbeatTTL:   time.Minute,
		LeaderTTL:      5 * time.Second,
	}, guard, logger, nopMetrics)

	if err := st.EnsureBuckets(t.Context()); err != nil {
		t.Fatalf("Failed to ensure storage buckets: %v", err)
	}

	return st
}
