package metrics

import "github.com/arloliu/streamd/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	metrics := metrics.NewNop()
//	orch, err := streamd.NewOrchestrator(&cfg, conn, src, streamd.WithMetrics(metrics))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// OrchestratorMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
	// No-op
}

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ /* isLeader */ bool) {
	// No-op
}

// StoreMetrics implementation

// RecordStoreOperation discards the storage operation metric.
func (n *NopMetrics) RecordStoreOperation(_ /* operation */ string, _ /* duration */ float64, _ /* success */ bool) {
	// No-op
}

// RecordStoreWait discards the permit wait metric.
func (n *NopMetrics) RecordStoreWait(_ /* duration */ float64) {
	// No-op
}

// RecordStoreExhausted discards the pool exhaustion counter.
func (n *NopMetrics) RecordStoreExhausted() {
	// No-op
}

// RecordCASConflict discards the compare-and-swap conflict counter.
func (n *NopMetrics) RecordCASConflict(_ /* operation */ string) {
	// No-op
}

// BreakerMetrics implementation

// RecordBreakerState discards the breaker state metric.
func (n *NopMetrics) RecordBreakerState(_ /* serviceKey */, _ /* state */ string) {
	// No-op
}

// RecordBreakerShortCircuit discards the short-circuit counter.
func (n *NopMetrics) RecordBreakerShortCircuit(_ /* serviceKey */ string) {
	// No-op
}

// RecordRetryAttempt discards the retry attempt counter.
func (n *NopMetrics) RecordRetryAttempt(_ /* serviceKey */ string) {
	// No-op
}

// RecordRetryBackoff discards the retry backoff observation.
func (n *NopMetrics) RecordRetryBackoff(_ /* serviceKey */ string, _ /* seconds */ float64) {
	// No-op
}

// RegistryMetrics implementation

// RecordRegistration discards the registration counter.
func (n *NopMetrics) RecordRegistration(_ /* reRegistration */ bool) {
	// No-op
}

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* success */ bool) {
	// No-op
}

// RecordActiveInstances discards the active instance gauge.
func (n *NopMetrics) RecordActiveInstances(_ /* count */ int) {
	// No-op
}

// RecordHealthTransition discards the health transition counter.
func (n *NopMetrics) RecordHealthTransition(_ /* from */, _ /* to */ types.HealthState) {
	// No-op
}

// RecordInstanceFailure discards the instance failure counter.
func (n *NopMetrics) RecordInstanceFailure(_ /* reason */ string) {
	// No-op
}

// RecordInstanceRecovery discards the instance recovery counter.
func (n *NopMetrics) RecordInstanceRecovery(_ /* attempts */ int) {
	// No-op
}

// RecordSystemHealth discards the system health gauge.
func (n *NopMetrics) RecordSystemHealth(_ /* health */ types.SystemHealth) {
	// No-op
}

// AssignMetrics implementation

// RecordStreamsGranted discards the grant counter.
func (n *NopMetrics) RecordStreamsGranted(_ /* count */ int) {
	// No-op
}

// RecordStreamsReleased discards the release counter.
func (n *NopMetrics) RecordStreamsReleased(_ /* count */ int) {
	// No-op
}

// RecordAssignedStreams discards the active assignment gauge.
func (n *NopMetrics) RecordAssignedStreams(_ /* count */ int) {
	// No-op
}

// RecordClaimConflict discards the claim conflict counter.
func (n *NopMetrics) RecordClaimConflict() {
	// No-op
}

// BalanceMetrics implementation

// RecordRebalance discards the rebalance metric.
func (n *NopMetrics) RecordRebalance(_ /* reason */ string, _ /* planned */, _ /* moved */ int, _ /* duration */ float64) {
	// No-op
}

// RecordImbalance discards the imbalance detection counter.
func (n *NopMetrics) RecordImbalance(_ /* reason */ string) {
	// No-op
}

// RecordPerformanceScore discards the performance score observation.
func (n *NopMetrics) RecordPerformanceScore(_ /* serverID */ string, _ /* score */ float64) {
	// No-op
}

// ConsistencyMetrics implementation

// RecordConsistencyScore discards the consistency score observation.
func (n *NopMetrics) RecordConsistencyScore(_ /* score */ float64) {
	// No-op
}

// RecordConsistencyIssues discards the per-type issue counter.
func (n *NopMetrics) RecordConsistencyIssues(_ /* issueType */ types.IssueType, _ /* count */ int) {
	// No-op
}

// RecordRecoveryAction discards the recovery action counter.
func (n *NopMetrics) RecordRecoveryAction(_ /* action */ types.RecoveryAction, _ /* success */ bool) {
	// No-op
}
