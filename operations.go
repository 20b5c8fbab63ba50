package streamd

import (
	"context"
	"time"

	"github.com/arloliu/streamd/internal/balance"
	"github.com/arloliu/streamd/internal/consistency"
	"github.com/arloliu/streamd/internal/registry"
)

// Register registers a stream server instance or refreshes an existing
// registration.
//
// Re-registering an existing server ID resets its capacity, marks it
// active and refreshes the heartbeat, but keeps the current stream counter
// untouched; the consistency checker reconciles the counter against the
// ledger separately.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - serverID: Stable instance identifier chosen by the worker
//   - host: Reachable address of the instance
//   - port: Service port of the instance
//   - maxStreams: Maximum concurrent streams the instance accepts
//
// Returns:
//   - *Instance: The stored registration row
//   - error: ErrInvalidRegistration for malformed input, storage error, or
//     ErrNotStarted
func (o *Orchestrator) Register(ctx context.Context, serverID, host string, port, maxStreams int) (*Instance, error) {
	if err := o.requireStarted(); err != nil {
		return nil, err
	}

	return o.registry.Register(ctx, serverID, host, port, maxStreams)
}

// Heartbeat records a liveness report from an instance.
//
// Updates the last-heartbeat timestamp and the reported stream count. A
// heartbeat alone never clears an open failure record; recovery is
// finalized by the monitoring loop so one stray packet cannot flap an
// instance back to active.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - serverID: Instance identifier
//   - currentStreams: Stream count the instance believes it serves
//   - status: Status the instance reports for itself
//   - metrics: Resource utilization snapshot
//
// Returns:
//   - error: ErrUnknownInstance for unregistered IDs, storage error, or
//     ErrNotStarted
func (o *Orchestrator) Heartbeat(ctx context.Context, serverID string, currentStreams int, status InstanceStatus, metrics InstanceMetrics) error {
	if err := o.requireStarted(); err != nil {
		return err
	}

	return o.registry.Heartbeat(ctx, serverID, currentStreams, status, metrics)
}

// RequestStreams grants up to the requested number of unassigned streams
// to an instance.
//
// The grant is bounded by the instance's spare capacity and by the pool of
// streams without an active assignment; receiving fewer streams than
// requested (or none) is a normal outcome when supply is exhausted, not an
// error.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - serverID: Instance requesting work
//   - requested: Desired number of streams
//
// Returns:
//   - []string: Granted stream IDs, possibly empty
//   - error: ErrUnknownInstance, ErrInstanceInactive, storage error, or
//     ErrNotStarted
func (o *Orchestrator) RequestStreams(ctx context.Context, serverID string, requested int) ([]string, error) {
	if err := o.requireStarted(); err != nil {
		return nil, err
	}

	return o.engine.RequestStreams(ctx, serverID, requested)
}

// ReleaseStreams returns streams held by an instance to the unassigned
// pool.
//
// Releasing a stream the caller does not actively hold is a no-op, making
// the operation idempotent under retries and duplicated release calls from
// a restarting worker.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - serverID: Instance releasing work
//   - streamIDs: Streams to release
//
// Returns:
//   - int: Number of assignments actually released
//   - error: ErrUnknownInstance, storage error, or ErrNotStarted
func (o *Orchestrator) ReleaseStreams(ctx context.Context, serverID string, streamIDs []string) (int, error) {
	if err := o.requireStarted(); err != nil {
		return 0, err
	}

	return o.engine.ReleaseStreams(ctx, serverID, streamIDs)
}

// GetInstances returns every registered instance, active and inactive,
// sorted by server ID.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - []Instance: All registration rows
//   - error: Storage error or ErrNotStarted
func (o *Orchestrator) GetInstances(ctx context.Context) ([]Instance, error) {
	if err := o.requireStarted(); err != nil {
		return nil, err
	}

	return o.registry.ListInstances(ctx)
}

// GetStatus returns a best-effort snapshot of the whole cluster.
//
// A failed sub-collection never fails the call: the affected section is
// named in the snapshot's Degraded list and its fields are left at zero.
// Works from any replica; followers derive system health from the
// registry snapshot instead of the leader's monitor.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *ClusterStatus: Best-effort snapshot, never nil on success
//   - error: ErrNotStarted only; collection failures degrade the snapshot
func (o *Orchestrator) GetStatus(ctx context.Context) (*ClusterStatus, error) {
	if err := o.requireStarted(); err != nil {
		return nil, err
	}

	status := &ClusterStatus{
		Health:      SystemHealthy,
		GeneratedAt: time.Now().UTC(),
	}

	instances, err := o.store.ListInstances(ctx)
	if err != nil {
		o.logger.Warn("status: instance scan failed", "error", err)
		status.Degraded = append(status.Degraded, "instances")
	} else {
		for i := range instances {
			inst := &instances[i]
			status.Instances.Total++
			if inst.Status != InstanceActive {
				continue
			}
			status.Instances.Active++
			status.Instances.TotalCapacity += inst.MaxStreams
			status.Instances.CurrentLoad += inst.CurrentStreams
		}
		if status.Instances.TotalCapacity > 0 {
			status.LoadPercentage = float64(status.Instances.CurrentLoad) /
				float64(status.Instances.TotalCapacity) * 100
		}
	}

	assignments, err := o.store.ListAssignments(ctx)
	if err != nil {
		o.logger.Warn("status: assignment scan failed", "error", err)
		status.Degraded = append(status.Degraded, "assignments")
	} else {
		for i := range assignments {
			if assignments[i].Active() {
				status.Streams.Assigned++
			}
		}
	}

	// The catalog lives outside the storage domain, so it gets its own
	// breaker key.
	var streams []Stream
	catalogErr := o.guard.Do(ctx, "catalog", func(ctx context.Context) error {
		var err error
		streams, err = o.source.ListStreams(ctx)

		return err
	})
	if catalogErr != nil {
		o.logger.Warn("status: catalog scan failed", "error", catalogErr)
		status.Degraded = append(status.Degraded, "catalog")
	} else {
		status.Streams.Total = len(streams)
		if available := status.Streams.Total - status.Streams.Assigned; available > 0 {
			status.Streams.Available = available
		}
	}

	status.Health = o.systemHealth(instances)

	return status, nil
}

// systemHealth reports the monitor's view on the leader and derives one
// from the registry snapshot elsewhere.
func (o *Orchestrator) systemHealth(instances []Instance) SystemHealth {
	o.mu.RLock()
	monitor := o.monitor
	o.mu.RUnlock()

	if monitor != nil {
		return monitor.SystemHealth()
	}

	failed := 0
	for i := range instances {
		if instances[i].Status != InstanceActive {
			failed++
		}
	}

	return registry.ComputeSystemHealth(len(instances), failed,
		o.cfg.Monitor.DegradedRatio, o.cfg.Monitor.CriticalRatio)
}

// ForceRebalance triggers an immediate rebalance, bypassing the imbalance
// gate.
//
// The cooldown and minimum fleet gates still apply: forcing cannot bypass
// the cross-replica rate limit or run against a single instance. Works
// from any replica; a follower executes with a one-shot balancer against
// the shared ledger, and duplicate migrations are suppressed by the
// ledger's compare-and-swap claims.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *MigrationPlan: The executed plan, including planned move count
//   - int: Streams actually moved
//   - error: ErrNoInstancesAvailable, ErrRebalanceCooldown,
//     ErrRebalanceInProgress, storage error, or ErrNotStarted
func (o *Orchestrator) ForceRebalance(ctx context.Context) (*MigrationPlan, int, error) {
	if err := o.requireStarted(); err != nil {
		return nil, 0, err
	}

	o.mu.RLock()
	balancer := o.balancer
	o.mu.RUnlock()

	if balancer == nil {
		balancer = balance.NewBalancer(o.cfg.Balancer, o.store, o.engine, o.events,
			o.hookRunner, o.ReplicaID, o.logger, o.metrics)
	}

	return balancer.ForceRebalance(ctx)
}

// RunConsistencyCheck verifies the assignment ledger against the registry
// and optionally repairs what it finds.
//
// Always returns a best-effort report: sections that could not be
// collected are named in the report's Degraded list. Works from any
// replica; a follower verifies with a one-shot checker against the shared
// ledger.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - autoRecover: Repair detected issues in the same pass
//
// Returns:
//   - *ConsistencyReport: Verification report, never nil on success
//   - []RecoveryResult: One entry per attempted repair, nil when
//     autoRecover is false or nothing needed repair
//   - error: ErrNotStarted only; collection failures degrade the report
func (o *Orchestrator) RunConsistencyCheck(ctx context.Context, autoRecover bool) (*ConsistencyReport, []RecoveryResult, error) {
	if err := o.requireStarted(); err != nil {
		return nil, nil, err
	}

	o.mu.RLock()
	checker := o.checker
	o.mu.RUnlock()

	if checker == nil {
		checker = consistency.NewChecker(o.cfg.Consistency, o.store, o.engine,
			o.hookRunner, o.logger, o.metrics)
	}

	report, results := checker.RunOnce(ctx, autoRecover)

	return report, results, nil
}
