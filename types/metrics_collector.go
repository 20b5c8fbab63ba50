package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from request handlers and internal goroutines and
// must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	OrchestratorMetrics
	StoreMetrics
	BreakerMetrics
	RegistryMetrics
	AssignMetrics
	BalanceMetrics
	ConsistencyMetrics
}

// OrchestratorMetrics defines metrics for orchestrator-level operations.
type OrchestratorMetrics interface {
	// RecordStateTransition records an orchestrator lifecycle transition.
	RecordStateTransition(from, to State, duration float64)

	// RecordLeadershipChange records this replica gaining or losing
	// leadership.
	RecordLeadershipChange(isLeader bool)
}

// StoreMetrics defines metrics for the storage access layer.
type StoreMetrics interface {
	// RecordStoreOperation records one storage operation.
	//
	// Parameters:
	//   - operation: Operation type ("get", "put", "update", "delete", "list", "watch")
	//   - duration: Time taken in seconds
	//   - success: true when the operation completed without error
	RecordStoreOperation(operation string, duration float64, success bool)

	// RecordStoreWait records time spent waiting for an in-flight permit.
	RecordStoreWait(duration float64)

	// RecordStoreExhausted records an acquisition that timed out because
	// all in-flight permits were busy.
	RecordStoreExhausted()

	// RecordCASConflict records a compare-and-swap retry caused by a
	// concurrent revision change.
	RecordCASConflict(operation string)
}

// BreakerMetrics defines metrics for the circuit breaker and retry guard.
type BreakerMetrics interface {
	// RecordBreakerState sets the current breaker state for a service key.
	//
	// Parameters:
	//   - serviceKey: Guarded operation class (e.g. "storage")
	//   - state: Breaker state string ("closed", "open", "half-open")
	RecordBreakerState(serviceKey string, state string)

	// RecordBreakerShortCircuit records a call rejected without attempting
	// the underlying operation.
	RecordBreakerShortCircuit(serviceKey string)

	// RecordRetryAttempt records one retry attempt for a service key.
	RecordRetryAttempt(serviceKey string)

	// RecordRetryBackoff observes a backoff delay in seconds.
	RecordRetryBackoff(serviceKey string, seconds float64)
}

// RegistryMetrics defines metrics for the instance registry and heartbeat
// monitor.
type RegistryMetrics interface {
	// RecordRegistration records a registration call.
	//
	// Parameters:
	//   - reRegistration: true when the server ID already existed
	RecordRegistration(reRegistration bool)

	// RecordHeartbeat records a heartbeat call.
	RecordHeartbeat(success bool)

	// RecordActiveInstances sets the current active instance count.
	RecordActiveInstances(count int)

	// RecordHealthTransition records a per-instance health state change.
	RecordHealthTransition(from, to HealthState)

	// RecordInstanceFailure records an instance being classified failed.
	RecordInstanceFailure(reason string)

	// RecordInstanceRecovery records a failed instance returning to
	// active.
	RecordInstanceRecovery(attempts int)

	// RecordSystemHealth sets the orchestrator-wide health level.
	RecordSystemHealth(health SystemHealth)
}

// AssignMetrics defines metrics for the stream assignment engine.
type AssignMetrics interface {
	// RecordStreamsGranted records a grant and how many streams it
	// returned.
	RecordStreamsGranted(count int)

	// RecordStreamsReleased records a release and how many rows flipped.
	RecordStreamsReleased(count int)

	// RecordAssignedStreams sets the current active assignment count.
	RecordAssignedStreams(count int)

	// RecordClaimConflict records a grant candidate lost to a concurrent
	// claim.
	RecordClaimConflict()
}

// BalanceMetrics defines metrics for the load balancer.
type BalanceMetrics interface {
	// RecordRebalance records one executed rebalance.
	//
	// Parameters:
	//   - reason: Trigger reason string
	//   - planned: Number of migrations planned
	//   - moved: Number of streams actually moved
	//   - duration: Time taken in seconds
	RecordRebalance(reason string, planned, moved int, duration float64)

	// RecordImbalance records an imbalance detection outcome.
	RecordImbalance(reason string)

	// RecordPerformanceScore observes a computed instance score.
	RecordPerformanceScore(serverID string, score float64)
}

// ConsistencyMetrics defines metrics for the consistency checker.
type ConsistencyMetrics interface {
	// RecordConsistencyScore observes the score of a completed pass.
	RecordConsistencyScore(score float64)

	// RecordConsistencyIssues records issue counts by type for one pass.
	RecordConsistencyIssues(issueType IssueType, count int)

	// RecordRecoveryAction records one auto-recovery action outcome.
	RecordRecoveryAction(action RecoveryAction, success bool)
}
