// Package registry implements instance registration, heartbeat intake, and
// the heartbeat monitor that drives failure detection and recovery.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// Registry handles instance registration and heartbeat intake.
//
// Registration is an idempotent upsert: re-registering an existing server ID
// resets its declared capacity and flips it active without touching
// CurrentStreams, which the consistency checker reconciles separately.
// Resetting the counter on re-registration orphans genuinely active
// assignments, so it is never done here.
type Registry struct {
	store   *store.Store
	logger  types.Logger
	metrics types.MetricsCollector

	now func() time.Time
}

// NewRegistry creates a registry backed by the given store.
//
// Parameters:
//   - st: Storage access layer
//   - logger: Logger for registration events
//   - metrics: Metrics collector
//
// Returns:
//   - *Registry: New registry instance
func NewRegistry(st *store.Store, logger types.Logger, metrics types.MetricsCollector) *Registry {
	return &Registry{
		store:   st,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Register creates or refreshes an instance row.
//
// New server IDs get a fresh row with a zero stream counter. Existing rows
// keep CurrentStreams and RegisteredAt but take the new address and
// capacity, flip active, and refresh LastHeartbeat. A registration also
// counts as a heartbeat.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Stable instance identifier, chosen by the worker
//   - host: Reachable host or IP
//   - port: Reachable port
//   - maxStreams: Declared capacity ceiling, must be positive
//
// Returns:
//   - *types.Instance: The stored row after the upsert
//   - error: types.ErrInvalidRegistration on bad input, storage errors otherwise
func (r *Registry) Register(ctx context.Context, serverID, host string, port, maxStreams int) (*types.Instance, error) {
	if serverID == "" {
		return nil, fmt.Errorf("%w: empty server ID", types.ErrInvalidRegistration)
	}
	if maxStreams <= 0 {
		return nil, fmt.Errorf("%w: max streams must be positive, got %d", types.ErrInvalidRegistration, maxStreams)
	}

	now := r.now().UTC()

	inst, reRegistration, err := r.upsert(ctx, serverID, host, port, maxStreams, now)
	if err != nil {
		return nil, err
	}

	// The heartbeat signal write is best-effort: the instance row already
	// carries the authoritative LastHeartbeat.
	if err := r.store.PutHeartbeat(ctx, serverID, now); err != nil {
		r.logger.Warn("failed to record registration heartbeat", "server_id", serverID, "error", err)
	}

	if reRegistration {
		r.markFailureHeartbeatSeen(ctx, serverID)
	}

	r.metrics.RecordRegistration(reRegistration)
	r.logger.Info("instance registered",
		"server_id", serverID,
		"addr", inst.Addr(),
		"max_streams", maxStreams,
		"re_registration", reRegistration,
	)

	return inst, nil
}

// upsert creates the row or applies the re-registration update.
func (r *Registry) upsert(ctx context.Context, serverID, host string, port, maxStreams int, now time.Time) (*types.Instance, bool, error) {
	fresh := &types.Instance{
		ServerID:       serverID,
		Host:           host,
		Port:           port,
		MaxStreams:     maxStreams,
		CurrentStreams: 0,
		Status:         types.InstanceActive,
		LastHeartbeat:  now,
		RegisteredAt:   now,
	}

	err := r.store.PutInstance(ctx, fresh)
	if err == nil {
		return fresh, false, nil
	}
	if !errors.Is(err, types.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("failed to register %s: %w", serverID, err)
	}

	updated, err := r.store.UpdateInstance(ctx, serverID, func(inst *types.Instance) error {
		inst.Host = host
		inst.Port = port
		inst.MaxStreams = maxStreams
		inst.Status = types.InstanceActive
		inst.LastHeartbeat = now
		// CurrentStreams and RegisteredAt deliberately preserved.
		return nil
	})
	if err != nil {
		return nil, true, fmt.Errorf("failed to re-register %s: %w", serverID, err)
	}

	return updated, true, nil
}

// Heartbeat records a liveness report from an instance.
//
// Updates LastHeartbeat, the self-reported stream count, and resource
// telemetry. The row's status is never flipped here: a failed instance
// becomes active again only through the monitor's recovery pass, after its
// counter has been resynchronized from the assignment ledger. A single
// stray heartbeat therefore cannot flap a failed instance back to active.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Instance identifier
//   - currentStreams: Self-reported live stream count
//   - status: Self-reported status, recorded for diagnostics only
//   - metrics: Optional resource telemetry; zero values mean full headroom
//
// Returns:
//   - error: types.ErrUnknownInstance for unregistered IDs, storage errors otherwise
func (r *Registry) Heartbeat(ctx context.Context, serverID string, currentStreams int, status types.InstanceStatus, metrics types.InstanceMetrics) error {
	now := r.now().UTC()

	inst, err := r.store.UpdateInstance(ctx, serverID, func(inst *types.Instance) error {
		inst.LastHeartbeat = now
		inst.CurrentStreams = currentStreams
		inst.Metrics = metrics
		return nil
	})
	if err != nil {
		r.metrics.RecordHeartbeat(false)
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%s: %w", serverID, types.ErrUnknownInstance)
		}

		return fmt.Errorf("failed to record heartbeat for %s: %w", serverID, err)
	}

	if err := r.store.PutHeartbeat(ctx, serverID, now); err != nil {
		r.logger.Warn("failed to record heartbeat signal", "server_id", serverID, "error", err)
	}

	if inst.Status == types.InstanceInactive {
		// Failed instance came back; the monitor finalizes recovery.
		r.markFailureHeartbeatSeen(ctx, serverID)
	}

	if status != "" && status != inst.Status {
		r.logger.Debug("self-reported status differs from registry",
			"server_id", serverID,
			"reported", status,
			"stored", inst.Status,
		)
	}

	r.metrics.RecordHeartbeat(true)

	return nil
}

// markFailureHeartbeatSeen flags the instance's failure episode (if any) so
// the monitor knows a fresh heartbeat arrived.
func (r *Registry) markFailureHeartbeatSeen(ctx context.Context, serverID string) {
	rec, err := r.store.GetFailureRecord(ctx, serverID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			r.logger.Warn("failed to check failure record", "server_id", serverID, "error", err)
		}

		return
	}

	if rec.HeartbeatSeen {
		return
	}

	rec.HeartbeatSeen = true
	if err := r.store.PutFailureRecord(ctx, rec); err != nil {
		r.logger.Warn("failed to mark failure episode heartbeat-seen", "server_id", serverID, "error", err)
		return
	}

	r.logger.Info("heartbeat seen from failed instance, recovery pending",
		"server_id", serverID,
		"episode_id", rec.EpisodeID,
	)
}

// GetInstance returns one instance row.
//
// Returns:
//   - *types.Instance: The stored row
//   - error: types.ErrUnknownInstance when the ID was never registered
func (r *Registry) GetInstance(ctx context.Context, serverID string) (*types.Instance, error) {
	inst, err := r.store.GetInstance(ctx, serverID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", serverID, types.ErrUnknownInstance)
		}

		return nil, err
	}

	return inst, nil
}

// ListInstances returns all registered instances sorted by server ID.
func (r *Registry) ListInstances(ctx context.Context) ([]types.Instance, error) {
	return r.store.ListInstances(ctx)
}

// ComputeSystemHealth derives the orchestrator-wide health level from the
// proportion of registered instances currently inactive.
//
// Parameters:
//   - total: Registered instance count
//   - failed: Inactive instance count
//   - degradedRatio: Failed proportion at which health degrades
//   - criticalRatio: Failed proportion at which health is critical
//
// Returns:
//   - types.SystemHealth: healthy, degraded, or critical
func ComputeSystemHealth(total, failed int, degradedRatio, criticalRatio float64) types.SystemHealth {
	if total == 0 || failed == 0 {
		return types.SystemHealthy
	}

	ratio := float64(failed) / float64(total)
	switch {
	case ratio >= criticalRatio:
		return types.SystemCritical
	case ratio >= degradedRatio:
		return types.SystemDegraded
	default:
		return types.SystemHealthy
	}
}
