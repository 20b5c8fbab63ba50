package consistency

import (
	"context"
	"fmt"

	"github.com/arloliu/streamd/internal/balance"
	"github.com/arloliu/streamd/internal/hash"
	"github.com/arloliu/streamd/types"
)

// AutoRecover dispatches one corrective action per reported issue.
//
// Orphaned streams are released from their dead owner and regranted to the
// healthiest instance with spare capacity, or left in the pool when none
// qualifies. Duplicate claims keep the newest assignment and release the
// rest. Mismatched counters are resynchronized from the ledger. Stale
// issues are watch-only.
//
// A failed action is logged and surfaced in the next report's
// recommendations; it is not retried within this pass.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - report: Report whose issues to act on
//
// Returns:
//   - []types.RecoveryResult: One outcome per issue, in report order
func (c *Checker) AutoRecover(ctx context.Context, report *types.ConsistencyReport) []types.RecoveryResult {
	if report == nil || len(report.Issues) == 0 {
		return nil
	}

	results := make([]types.RecoveryResult, 0, len(report.Issues))
	var failures []string

	for i := range report.Issues {
		issue := &report.Issues[i]

		var res types.RecoveryResult
		switch issue.Type {
		case types.IssueOrphaned:
			res = c.recoverOrphan(ctx, issue)
		case types.IssueDuplicate:
			res = c.recoverDuplicate(ctx, issue)
		case types.IssueMismatched:
			res = c.recoverMismatch(ctx, issue)
		default:
			res = types.RecoveryResult{
				StreamID: issue.StreamID,
				Action:   types.RecoveryNone,
				Success:  true,
				Details:  "watch-only issue, no action",
			}
		}

		c.metrics.RecordRecoveryAction(res.Action, res.Success)
		if res.Success {
			c.logger.Info("recovery action applied",
				"issue_type", issue.Type,
				"stream_id", res.StreamID,
				"server_id", res.ServerID,
				"action", res.Action,
				"details", res.Details)
		} else {
			failures = append(failures, fmt.Sprintf("%s %s: %s", issue.Type, issue.StreamID, res.Details))
			c.logger.Warn("recovery action failed",
				"issue_type", issue.Type,
				"stream_id", res.StreamID,
				"action", res.Action,
				"details", res.Details)
		}

		results = append(results, res)
	}

	if len(failures) > 0 {
		c.failMu.Lock()
		c.pastFailures = append(c.pastFailures, failures...)
		c.failMu.Unlock()
	}

	return results
}

// recoverOrphan releases an orphaned claim from its recorded owner and
// regrants the stream to the healthiest instance with spare capacity.
//
// The release is conditional on the recorded owner so a claim that already
// changed hands since verification is left alone. A failed regrant leaves
// the stream pooled for pull-based pickup and still counts as recovered.
func (c *Checker) recoverOrphan(ctx context.Context, issue *types.StreamIssue) types.RecoveryResult {
	res := types.RecoveryResult{StreamID: issue.StreamID}

	owner := ""
	if len(issue.ServerIDs) > 0 {
		owner = issue.ServerIDs[0]
	}

	flipped, err := c.store.ReleaseAssignment(ctx, issue.StreamID, owner)
	if err != nil {
		res.Action = types.RecoveryReleased
		res.Details = fmt.Sprintf("failed to release orphaned claim: %v", err)

		return res
	}
	if !flipped {
		res.Action = types.RecoveryNone
		res.Success = true
		res.Details = "claim changed hands since verification, nothing to do"

		return res
	}

	target, err := c.pickHealthiest(ctx)
	if err != nil {
		res.Action = types.RecoveryReleased
		res.Success = true
		res.Details = fmt.Sprintf("returned to pool; candidate scan failed: %v", err)

		return res
	}
	if target == "" {
		res.Action = types.RecoveryReleased
		res.Success = true
		res.Details = "no instance with spare capacity, returned to pool"

		return res
	}

	if err := c.assigner.AssignSpecific(ctx, target, issue.StreamID); err != nil {
		res.Action = types.RecoveryReleased
		res.Success = true
		res.Details = fmt.Sprintf("regrant to %s failed (%v), returned to pool", target, err)

		return res
	}

	res.Action = types.RecoveryReassigned
	res.ServerID = target
	res.Success = true
	res.Details = "reassigned to " + target

	return res
}

// recoverDuplicate retires every active claim for the stream except the
// most recently assigned one.
func (c *Checker) recoverDuplicate(ctx context.Context, issue *types.StreamIssue) types.RecoveryResult {
	res := types.RecoveryResult{StreamID: issue.StreamID}

	kept, released, err := c.store.ResolveDuplicate(ctx, issue.StreamID)
	if err != nil {
		res.Action = types.RecoveryReleased
		res.Details = fmt.Sprintf("failed to resolve duplicate claims: %v", err)

		return res
	}
	if released == 0 {
		res.Action = types.RecoveryNone
		res.ServerID = kept
		res.Success = true
		res.Details = "no extra active claims remained"

		return res
	}

	res.Action = types.RecoveryReleased
	res.ServerID = kept
	res.Success = true
	res.Details = fmt.Sprintf("kept newest claim on %s, released %d", kept, released)

	return res
}

// recoverMismatch rewrites the instance's stream counter from the ledger.
func (c *Checker) recoverMismatch(ctx context.Context, issue *types.StreamIssue) types.RecoveryResult {
	res := types.RecoveryResult{Action: types.RecoveryResynced}

	if len(issue.ServerIDs) == 0 {
		res.Details = "issue carries no server ID"

		return res
	}
	res.ServerID = issue.ServerIDs[0]

	if err := c.Resynchronize(ctx, res.ServerID); err != nil {
		res.Details = fmt.Sprintf("failed to resynchronize counter: %v", err)

		return res
	}

	res.Success = true
	res.Details = "stream counter rewritten from ledger"

	return res
}

// Resynchronize recomputes an instance's stream counter from the
// assignment ledger and writes it back.
//
// The ledger is authoritative; the counter is a cached view. The write
// serializes on the instance's grant lock so an in-flight grant or release
// cannot interleave with the rewrite.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Instance to resynchronize
//
// Returns:
//   - error: Ledger scan or counter write failure
func (c *Checker) Resynchronize(ctx context.Context, serverID string) error {
	unlock := c.store.Locks().Lock(serverID)
	defer unlock()

	count, err := c.store.CountActiveByServer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to derive ledger count for %s: %w", serverID, err)
	}

	_, err = c.store.UpdateInstance(ctx, serverID, func(inst *types.Instance) error {
		inst.CurrentStreams = count

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rewrite stream counter for %s: %w", serverID, err)
	}

	c.logger.Info("instance counter resynchronized", "server_id", serverID, "current_streams", count)

	return nil
}

// pickHealthiest chooses the active instance with spare capacity and the
// best performance score. Equal scores break on a seeded hash so
// concurrent checker replicas pick the same target.
func (c *Checker) pickHealthiest(ctx context.Context) (string, error) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		return "", err
	}

	failures := map[string]int{}
	if records, err := c.store.ListFailureRecords(ctx); err == nil {
		for i := range records {
			failures[records[i].ServerID] = 1 + records[i].RecoveryAttempts
		}
	}

	best := ""
	bestScore := -1.0
	for i := range instances {
		inst := &instances[i]
		if inst.Status != types.InstanceActive || inst.CurrentStreams >= inst.MaxStreams {
			continue
		}

		score := balance.Score(inst, failures[inst.ServerID])
		if score > bestScore || (score == bestScore && hash.TieBreak(inst.ServerID, best, 0)) {
			best = inst.ServerID
			bestScore = score
		}
	}

	return best, nil
}
