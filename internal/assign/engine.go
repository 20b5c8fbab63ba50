// Package assign implements the stream assignment engine: the pull-based
// allocator that grants unassigned catalog streams to requesting instances
// and returns released streams to the shared pool.
//
// The engine never pushes work. Redistribution after a failure happens when
// surviving instances next call RequestStreams; the load balancer layers a
// push-based alternative on top via AssignSpecific.
package assign

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/streamd/internal/registry"
	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// Engine grants and releases stream assignments against the ledger.
//
// Grants for the same server are serialized with a per-server lock so
// concurrent requests cannot oversubscribe an instance's capacity.
// Different instances racing for the same stream are arbitrated by the
// store's first-writer-wins claim; losers simply move to the next
// candidate.
type Engine struct {
	store   *store.Store
	source  types.StreamSource
	logger  types.Logger
	metrics types.MetricsCollector
}

var _ registry.AssignmentReleaser = (*Engine)(nil)

// NewEngine creates an assignment engine over the given store and catalog.
//
// Parameters:
//   - st: Storage access layer
//   - src: Read-only stream catalog
//   - logger: Logger for grant and release events
//   - metrics: Metrics collector
//
// Returns:
//   - *Engine: New engine instance
func NewEngine(st *store.Store, src types.StreamSource, logger types.Logger, metrics types.MetricsCollector) *Engine {
	return &Engine{
		store:   st,
		source:  src,
		logger:  logger,
		metrics: metrics,
	}
}

// RequestStreams grants up to requested unassigned streams to an instance.
//
// The grant size is min(requested, remaining capacity, unassigned pool
// size). A partial or empty grant is a normal outcome when the pool or the
// instance's capacity is exhausted, never an error. Candidates are tried in
// catalog order; a candidate lost to a concurrent claimer is skipped and
// the next one tried, so two instances requesting at once split the pool
// instead of failing.
//
// The instance's stream counter is updated once for the whole grant. If
// the counter write fails after rows were claimed, the claims stand and
// the counter divergence is repaired by the next consistency pass.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Requesting instance
//   - requested: Upper bound on the grant size
//
// Returns:
//   - []string: Granted stream IDs, possibly empty
//   - error: types.ErrUnknownInstance, types.ErrInstanceInactive, or a
//     storage error; on a mid-grant storage error the streams already
//     claimed are returned alongside the error
func (e *Engine) RequestStreams(ctx context.Context, serverID string, requested int) ([]string, error) {
	if requested <= 0 {
		return nil, nil
	}

	unlock := e.store.Locks().Lock(serverID)
	defer unlock()

	inst, err := e.store.GetInstance(ctx, serverID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", serverID, types.ErrUnknownInstance)
		}

		return nil, err
	}
	if inst.Status != types.InstanceActive {
		return nil, fmt.Errorf("%s: %w", serverID, types.ErrInstanceInactive)
	}

	capacity := inst.MaxStreams - inst.CurrentStreams
	if capacity <= 0 {
		e.logger.Debug("grant skipped, instance at capacity",
			"server_id", serverID,
			"current_streams", inst.CurrentStreams,
			"max_streams", inst.MaxStreams)
		e.metrics.RecordStreamsGranted(0)

		return nil, nil
	}

	available, err := e.UnassignedStreams(ctx)
	if err != nil {
		return nil, err
	}

	want := min(requested, capacity, len(available))

	granted := make([]string, 0, want)
	var claimErr error
	for _, streamID := range available {
		if len(granted) == want {
			break
		}

		if _, err := e.store.ClaimAssignment(ctx, streamID, serverID); err != nil {
			if errors.Is(err, types.ErrStreamTaken) {
				// Lost the race for this candidate; later ones may still
				// be free.
				e.metrics.RecordClaimConflict()

				continue
			}

			claimErr = err

			break
		}

		granted = append(granted, streamID)
	}

	if len(granted) > 0 {
		if err := e.adjustCounter(ctx, serverID, len(granted)); err != nil {
			e.logger.Warn("stream counter update failed after grant",
				"server_id", serverID,
				"granted", len(granted),
				"error", err)
		}
	}
	e.metrics.RecordStreamsGranted(len(granted))

	if claimErr != nil {
		return granted, claimErr
	}

	e.logger.Info("streams granted",
		"server_id", serverID,
		"requested", requested,
		"granted", len(granted),
		"pool", len(available))

	return granted, nil
}

// ReleaseStreams returns named streams from an instance to the pool.
//
// Releasing is idempotent. Streams the instance does not actively hold are
// skipped without error, so duplicated release calls from a restarting
// worker are harmless. The counter is decremented by the number of rows
// actually flipped.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Releasing instance
//   - streamIDs: Streams to release
//
// Returns:
//   - int: Number of rows flipped to released
//   - error: Storage error; the count reflects rows flipped before it
func (e *Engine) ReleaseStreams(ctx context.Context, serverID string, streamIDs []string) (int, error) {
	if len(streamIDs) == 0 {
		return 0, nil
	}

	unlock := e.store.Locks().Lock(serverID)
	defer unlock()

	released := 0
	var releaseErr error
	for _, streamID := range streamIDs {
		flipped, err := e.store.ReleaseAssignment(ctx, streamID, serverID)
		if err != nil {
			releaseErr = err

			break
		}
		if flipped {
			released++
		}
	}

	if released > 0 {
		if err := e.adjustCounter(ctx, serverID, -released); err != nil {
			e.logger.Warn("stream counter update failed after release",
				"server_id", serverID,
				"released", released,
				"error", err)
		}
	}
	e.metrics.RecordStreamsReleased(released)

	if releaseErr != nil {
		return released, releaseErr
	}

	e.logger.Info("streams released",
		"server_id", serverID,
		"requested", len(streamIDs),
		"released", released)

	return released, nil
}

// ReleaseAllForServer returns every active assignment held by one instance
// to the pool.
//
// Used by the failure and emergency paths, where the owner is presumed
// dead. After the bulk release the instance's counter is resynchronized
// from the ledger rather than decremented, so a drifted self-report cannot
// survive the episode.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Instance whose assignments are released
//   - reason: Release cause for the audit log ("failure", "emergency")
//
// Returns:
//   - int: Number of rows flipped to released
//   - error: Storage error; the count reflects rows flipped before it
func (e *Engine) ReleaseAllForServer(ctx context.Context, serverID, reason string) (int, error) {
	unlock := e.store.Locks().Lock(serverID)
	defer unlock()

	rows, err := e.store.ListActiveByServer(ctx, serverID)
	if err != nil {
		return 0, err
	}

	released := 0
	var releaseErr error
	for i := range rows {
		flipped, err := e.store.ReleaseAssignment(ctx, rows[i].StreamID, serverID)
		if err != nil {
			releaseErr = err

			break
		}
		if flipped {
			released++
		}
	}

	if err := e.resyncCounter(ctx, serverID); err != nil {
		e.logger.Warn("stream counter resync failed after bulk release",
			"server_id", serverID,
			"error", err)
	}
	e.metrics.RecordStreamsReleased(released)

	if releaseErr != nil {
		return released, releaseErr
	}

	if released > 0 {
		e.logger.Info("released all assignments",
			"server_id", serverID,
			"released", released,
			"reason", reason)
	}

	return released, nil
}

// AssignSpecific grants one named stream to one instance.
//
// Used by migration execution and orphan repair, where the stream identity
// is fixed in advance. Unlike RequestStreams the caller names the stream,
// so losing the claim race surfaces as types.ErrStreamTaken instead of
// being skipped.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Receiving instance, must be active with spare capacity
//   - streamID: Stream to bind
//
// Returns:
//   - error: types.ErrUnknownInstance, types.ErrInstanceInactive,
//     types.ErrInstanceAtCapacity, types.ErrStreamTaken, or a storage
//     error
func (e *Engine) AssignSpecific(ctx context.Context, serverID, streamID string) error {
	unlock := e.store.Locks().Lock(serverID)
	defer unlock()

	inst, err := e.store.GetInstance(ctx, serverID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%s: %w", serverID, types.ErrUnknownInstance)
		}

		return err
	}
	if inst.Status != types.InstanceActive {
		return fmt.Errorf("%s: %w", serverID, types.ErrInstanceInactive)
	}
	if inst.CurrentStreams >= inst.MaxStreams {
		return fmt.Errorf("%s: %w", serverID, types.ErrInstanceAtCapacity)
	}

	if _, err := e.store.ClaimAssignment(ctx, streamID, serverID); err != nil {
		return err
	}

	if err := e.adjustCounter(ctx, serverID, 1); err != nil {
		e.logger.Warn("stream counter update failed after targeted grant",
			"server_id", serverID,
			"stream_id", streamID,
			"error", err)
	}
	e.metrics.RecordStreamsGranted(1)

	e.logger.Debug("stream assigned",
		"server_id", serverID,
		"stream_id", streamID)

	return nil
}

// UnassignedStreams returns the catalog IDs with no active ledger row, in
// catalog order.
//
// Returns:
//   - []string: Unassigned stream IDs
//   - error: Catalog or storage error
func (e *Engine) UnassignedStreams(ctx context.Context) ([]string, error) {
	streams, err := e.source.ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream catalog: %w", err)
	}

	assignments, err := e.store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]struct{}, len(assignments))
	for i := range assignments {
		if assignments[i].Active() {
			activeSet[assignments[i].StreamID] = struct{}{}
		}
	}
	e.metrics.RecordAssignedStreams(len(activeSet))

	available := make([]string, 0, len(streams))
	for _, stream := range streams {
		if _, taken := activeSet[stream.ID]; !taken {
			available = append(available, stream.ID)
		}
	}

	return available, nil
}

// adjustCounter moves the instance's stream counter by delta, clamped at
// zero.
func (e *Engine) adjustCounter(ctx context.Context, serverID string, delta int) error {
	_, err := e.store.UpdateInstance(ctx, serverID, func(inst *types.Instance) error {
		inst.CurrentStreams += delta
		if inst.CurrentStreams < 0 {
			inst.CurrentStreams = 0
		}

		return nil
	})

	return err
}

// resyncCounter sets the instance's stream counter to the ledger-derived
// active count.
func (e *Engine) resyncCounter(ctx context.Context, serverID string) error {
	count, err := e.store.CountActiveByServer(ctx, serverID)
	if err != nil {
		return err
	}

	_, err = e.store.UpdateInstance(ctx, serverID, func(inst *types.Instance) error {
		inst.CurrentStreams = count

		return nil
	})

	return err
}
