package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/types"
)

func TestNewNop(t *testing.T) {
	collector := NewNop()

	require.NotNil(t, collector)
	require.IsType(t, &NopMetrics{}, collector)
}

func TestNopMetrics_Lifecycle(t *testing.T) {
	collector := NewNop()

	// Should not panic with any input, including garbage states
	require.NotPanics(t, func() {
		collector.RecordStateTransition(types.StateInit, types.StateRunning, 1.5)
		collector.RecordStateTransition(0, 0, 0)
		collector.RecordStateTransition(types.State(999), types.State(1000), -1.0)
		collector.RecordLeadershipChange(true)
		collector.RecordLeadershipChange(false)
	})
}

func TestNopMetrics_Store(t *testing.T) {
	collector := NewNop()

	require.NotPanics(t, func() {
		collector.RecordStoreOperation("get", 0.002, true)
		collector.RecordStoreOperation("", -1, false)
		collector.RecordStoreWait(0.5)
		collector.RecordStoreExhausted()
		collector.RecordCASConflict("update")
	})
}

func TestNopMetrics_Breaker(t *testing.T) {
	collector := NewNop()

	require.NotPanics(t, func() {
		collector.RecordBreakerState("store", "open")
		collector.RecordBreakerShortCircuit("store")
		collector.RecordRetryAttempt("catalog")
		collector.RecordRetryBackoff("catalog", 0.1)
	})
}

func TestNopMetrics_Registry(t *testing.T) {
	collector := NewNop()

	require.NotPanics(t, func() {
		collector.RecordRegistration(false)
		collector.RecordRegistration(true)
		collector.RecordHeartbeat(true)
		collector.RecordHeartbeat(false)
		collector.RecordActiveInstances(0)
		collector.RecordHealthTransition(types.HealthActive, types.HealthWarning)
		collector.RecordInstanceFailure("heartbeat timeout")
		collector.RecordInstanceRecovery(3)
		collector.RecordSystemHealth(types.SystemDegraded)
	})
}

func TestNopMetrics_AssignAndBalance(t *testing.T) {
	collector := NewNop()

	require.NotPanics(t, func() {
		collector.RecordStreamsGranted(5)
		collector.RecordStreamsReleased(-1)
		collector.RecordAssignedStreams(42)
		collector.RecordClaimConflict()
		collector.RecordRebalance("manual", 8, 4, 0.25)
		collector.RecordImbalance("load spread")
		collector.RecordPerformanceScore("server-1", 0.87)
	})
}

func TestNopMetrics_Consistency(t *testing.T) {
	collector := NewNop()

	require.NotPanics(t, func() {
		collector.RecordConsistencyScore(1.0)
		collector.RecordConsistencyIssues(types.IssueOrphaned, 2)
		collector.RecordRecoveryAction(types.RecoveryReleased, true)
	})
}

func BenchmarkNopMetrics_RecordStateTransition(b *testing.B) {
	collector := NewNop()
	for b.Loop() {
		collector.RecordStateTransition(types.StateInit, types.StateRunning, 1.5)
	}
}

func BenchmarkNopMetrics_RecordStoreOperation(b *testing.B) {
	collector := NewNop()
	for b.Loop() {
		collector.RecordStoreOperation("get", 0.002, true)
	}
}

func BenchmarkNopMetrics_RecordHeartbeat(b *testing.B) {
	collector := NewNop()
	for b.Loop() {
		collector.RecordHeartbeat(true)
	}
}
