package hooks

import (
	"context"

	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/types"
)

// Runner fires lifecycle hooks in background goroutines.
//
// Multiple subsystems (registry monitor, balancer, consistency checker,
// orchestrator state machine) emit hook events; Runner keeps the firing
// semantics in one place: nil callbacks are skipped, each callback runs in
// its own goroutine, and callback errors are logged rather than propagated.
type Runner struct {
	hooks  types.Hooks
	logger types.Logger
}

// NewRunner creates a hook runner.
//
// Parameters:
//   - hooks: Callbacks to fire (zero-value fields are skipped)
//   - logger: Logger for callback errors
//
// Returns:
//   - *Runner: New runner instance
func NewRunner(hooks types.Hooks, logger types.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Runner{hooks: hooks, logger: logger}
}

// StateChanged fires the OnStateChanged hook.
func (r *Runner) StateChanged(ctx context.Context, from, to types.State) {
	if r.hooks.OnStateChanged == nil {
		return
	}

	go func() {
		if err := r.hooks.OnStateChanged(ctx, from, to); err != nil {
			r.logger.Error("state change hook error", "from", from.String(), "to", to.String(), "error", err)
		}
	}()
}

// InstanceFailed fires the OnInstanceFailed hook.
func (r *Runner) InstanceFailed(ctx context.Context, record types.FailureRecord) {
	if r.hooks.OnInstanceFailed == nil {
		return
	}

	go func() {
		if err := r.hooks.OnInstanceFailed(ctx, record); err != nil {
			r.logger.Error("instance failed hook error", "server_id", record.ServerID, "error", err)
		}
	}()
}

// InstanceRecovered fires the OnInstanceRecovered hook.
func (r *Runner) InstanceRecovered(ctx context.Context, serverID string) {
	if r.hooks.OnInstanceRecovered == nil {
		return
	}

	go func() {
		if err := r.hooks.OnInstanceRecovered(ctx, serverID); err != nil {
			r.logger.Error("instance recovered hook error", "server_id", serverID, "error", err)
		}
	}()
}

// Emergency fires the OnEmergency hook.
func (r *Runner) Emergency(ctx context.Context, serverID string, released int) {
	if r.hooks.OnEmergency == nil {
		return
	}

	go func() {
		if err := r.hooks.OnEmergency(ctx, serverID, released); err != nil {
			r.logger.Error("emergency hook error", "server_id", serverID, "released", released, "error", err)
		}
	}()
}

// Rebalance fires the OnRebalance hook.
func (r *Runner) Rebalance(ctx context.Context, plan types.MigrationPlan, moved int) {
	if r.hooks.OnRebalance == nil {
		return
	}

	go func() {
		if err := r.hooks.OnRebalance(ctx, plan, moved); err != nil {
			r.logger.Error("rebalance hook error", "reason", plan.Reason, "moved", moved, "error", err)
		}
	}()
}

// ConsistencyReport fires the OnConsistencyReport hook.
func (r *Runner) ConsistencyReport(ctx context.Context, report types.ConsistencyReport) {
	if r.hooks.OnConsistencyReport == nil {
		return
	}

	go func() {
		if err := r.hooks.OnConsistencyReport(ctx, report); err != nil {
			r.logger.Error("consistency report hook error", "issues", len(report.Issues), "error", err)
		}
	}()
}

// Error fires the OnError hook.
func (r *Runner) Error(ctx context.Context, opErr error) {
	if r.hooks.OnError == nil {
		return
	}

	go func() {
		if err := r.hooks.OnError(ctx, opErr); err != nil {
			r.logger.Error("error hook error", "original_error", opErr, "error", err)
		}
	}()
}
