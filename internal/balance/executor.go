package balance

import (
	"context"

	"github.com/arloliu/streamd/types"
)

// Execute applies a migration plan to the ledger.
//
// Migrations run in plan order. For each one the source's oldest active
// assignments are chosen, and each stream is released from the source and
// granted to the target as two coordinated steps. A failed target grant
// leaves that stream in the unassigned pool for pull-based pickup rather
// than handing it back to the source, so a stream is never actively owned
// twice. A migration that fails at the storage layer is logged and the
// rest of the plan still runs.
//
// The executed rebalance is journaled with its planned and moved counts;
// the journal entry's timestamp starts the next cooldown window. Only one
// Execute runs at a time.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - plan: Plan to execute; nil or empty plans are no-ops
//
// Returns:
//   - int: Streams actually re-granted to their targets
//   - error: types.ErrRebalanceInProgress when another execution holds the
//     lock
func (b *Balancer) Execute(ctx context.Context, plan *types.MigrationPlan) (int, error) {
	if plan == nil || len(plan.Migrations) == 0 {
		return 0, nil
	}

	if !b.execMu.TryLock() {
		return 0, types.ErrRebalanceInProgress
	}
	defer b.execMu.Unlock()

	start := b.now()
	moved := 0
	for i := range plan.Migrations {
		m := &plan.Migrations[i]

		n, err := b.executeMigration(ctx, m)
		moved += n
		if err != nil {
			b.logger.Warn("migration failed",
				"migration_id", m.ID,
				"from", m.FromServerID,
				"to", m.ToServerID,
				"moved", n,
				"planned", m.StreamCount,
				"error", err)
		}
	}

	record := &types.RebalanceRecord{
		Reason:     plan.Reason,
		Planned:    plan.TotalStreams(),
		Moved:      moved,
		ReplicaID:  b.replicaID(),
		ExecutedAt: b.now(),
	}
	if _, err := b.store.AppendRebalance(ctx, record); err != nil {
		// The moves already happened; a missing journal entry only
		// shortens the cooldown.
		b.logger.Error("failed to journal rebalance", "error", err)
	}

	b.metrics.RecordRebalance(string(plan.Reason), plan.TotalStreams(), moved, b.now().Sub(start).Seconds())
	b.hooks.Rebalance(ctx, *plan, moved)

	b.logger.Info("rebalance executed",
		"reason", plan.Reason,
		"planned", plan.TotalStreams(),
		"moved", moved,
		"migrations", len(plan.Migrations))

	return moved, nil
}

// executeMigration moves up to m.StreamCount of the source's oldest active
// streams to the target.
func (b *Balancer) executeMigration(ctx context.Context, m *types.Migration) (int, error) {
	rows, err := b.store.ListActiveByServer(ctx, m.FromServerID)
	if err != nil {
		return 0, err
	}
	if len(rows) > m.StreamCount {
		rows = rows[:m.StreamCount]
	}

	moved := 0
	for i := range rows {
		streamID := rows[i].StreamID

		released, err := b.mover.ReleaseStreams(ctx, m.FromServerID, []string{streamID})
		if err != nil {
			return moved, err
		}
		if released == 0 {
			// The row changed hands since listing; nothing to move.
			continue
		}

		if err := b.mover.AssignSpecific(ctx, m.ToServerID, streamID); err != nil {
			b.logger.Warn("migration target grant failed, stream left in pool",
				"stream_id", streamID,
				"from", m.FromServerID,
				"to", m.ToServerID,
				"error", err)

			continue
		}

		moved++
	}

	return moved, nil
}
