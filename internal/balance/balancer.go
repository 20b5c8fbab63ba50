// Package balance implements the smart load balancer: performance scoring,
// optimal distribution targets, imbalance detection, migration planning,
// and plan execution against the assignment ledger.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/streamd/internal/hooks"
	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/internal/registry"
	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// StreamMover is the slice of the assignment engine the balancer drives.
type StreamMover interface {
	ReleaseStreams(ctx context.Context, serverID string, streamIDs []string) (int, error)
	AssignSpecific(ctx context.Context, serverID, streamID string) error
}

// Balancer evaluates fleet load and migrates streams between instances.
//
// A periodic loop re-evaluates every CheckInterval; registry failure
// events nudge an immediate evaluation so redistribution does not wait for
// the next tick. Execution is serialized and journaled, and the journal
// timestamp enforces the cooldown across replicas.
type Balancer struct {
	cfg       Config
	store     *store.Store
	mover     StreamMover
	events    *registry.Broadcaster
	hooks     *hooks.Runner
	logger    types.Logger
	metrics   types.MetricsCollector
	replicaID func() string
	now       func() time.Time

	execMu  sync.Mutex
	nudgeCh chan types.MigrationReason

	mu          sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	unsubscribe func()
}

// NewBalancer creates a load balancer.
//
// Parameters:
//   - cfg: Balancer configuration; zero fields take defaults
//   - st: Storage access layer
//   - mover: Assignment engine slice used to move streams
//   - events: Registry event feed for failure nudges, may be nil
//   - hookRunner: Lifecycle callback runner
//   - replicaID: Provider of this replica's ID for journal entries, may be
//     nil
//   - logger: Logger for evaluation and migration events, nil for none
//   - collector: Metrics collector, nil for none
//
// Returns:
//   - *Balancer: New balancer instance
func NewBalancer(
	cfg Config,
	st *store.Store,
	mover StreamMover,
	events *registry.Broadcaster,
	hookRunner *hooks.Runner,
	replicaID func() string,
	logger types.Logger,
	collector types.MetricsCollector,
) *Balancer {
	cfg.SetDefaults()

	if replicaID == nil {
		replicaID = func() string { return "" }
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	if hookRunner == nil {
		hookRunner = hooks.NewRunner(types.Hooks{}, logger)
	}

	return &Balancer{
		cfg:       cfg,
		store:     st,
		mover:     mover,
		events:    events,
		hooks:     hookRunner,
		logger:    logger,
		metrics:   collector,
		replicaID: replicaID,
		now:       time.Now,
		nudgeCh:   make(chan types.MigrationReason, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the periodic evaluation loop.
//
// Returns:
//   - error: types.ErrBalancerAlreadyStarted or
//     types.ErrBalancerAlreadyStopped
func (b *Balancer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return types.ErrBalancerAlreadyStopped
	}
	if b.started {
		return types.ErrBalancerAlreadyStarted
	}
	b.started = true

	if b.events != nil {
		b.unsubscribe = b.events.Subscribe(func(ev registry.Event) {
			if ev.Type != registry.EventInstanceFailed && ev.Type != registry.EventInstanceEmergency {
				return
			}

			// Collapse bursts into one pending evaluation.
			select {
			case b.nudgeCh <- types.ReasonInstanceFailure:
			default:
			}
		})
	}

	go b.run(ctx)

	b.logger.Info("load balancer started", "check_interval", b.cfg.CheckInterval)

	return nil
}

// Stop terminates the evaluation loop and waits for it to finish.
//
// Stop is idempotent. A stopped balancer cannot be restarted.
//
// Returns:
//   - error: types.ErrBalancerNotStarted if Start was never called
func (b *Balancer) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()

		return types.ErrBalancerNotStarted
	}
	if b.stopped {
		b.mu.Unlock()

		return nil
	}
	b.stopped = true
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	close(b.stopCh)
	b.mu.Unlock()

	<-b.doneCh

	b.logger.Info("load balancer stopped")

	return nil
}

func (b *Balancer) run(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.evaluate(ctx, types.ReasonLoadImbalance)
		case reason := <-b.nudgeCh:
			b.evaluate(ctx, reason)
		}
	}
}

// evaluate runs one balance cycle: survey, gate, plan, execute.
func (b *Balancer) evaluate(ctx context.Context, reason types.MigrationReason) {
	active, scores, err := b.survey(ctx)
	if err != nil {
		b.logger.Error("balance evaluation failed", "error", err)

		return
	}

	ok, why, err := b.ShouldRebalance(ctx, active)
	if err != nil {
		b.logger.Error("rebalance gate check failed", "error", err)

		return
	}
	if !ok {
		b.logger.Debug("rebalance skipped", "why", why)

		return
	}

	plan := b.PlanMigrations(reason, active, scores)
	if len(plan.Migrations) == 0 {
		b.logger.Debug("imbalance detected but no viable migrations", "why", why)

		return
	}

	if _, err := b.Execute(ctx, plan); err != nil {
		b.logger.Error("rebalance execution failed", "reason", reason, "error", err)
	}
}

// ShouldRebalance applies the rebalance gates in order: cooldown, fleet
// size, imbalance.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - instances: Active instances
//
// Returns:
//   - bool: true when a rebalance should run
//   - string: The triggering condition when true ("emergency", "spread",
//     "absolute"); the refusing gate when false ("cooldown",
//     "insufficient-instances", "balanced")
//   - error: Journal read error
func (b *Balancer) ShouldRebalance(ctx context.Context, instances []types.Instance) (bool, string, error) {
	remaining, err := b.cooldownRemaining(ctx)
	if err != nil {
		return false, "", err
	}
	if remaining > 0 {
		return false, "cooldown", nil
	}

	if len(instances) < b.cfg.MinInstances {
		return false, "insufficient-instances", nil
	}

	triggered, why := b.DetectImbalance(instances)
	if !triggered {
		return false, "balanced", nil
	}
	b.metrics.RecordImbalance(why)

	return true, why, nil
}

// ForceRebalance plans and executes a manual rebalance immediately.
//
// The imbalance gate is bypassed; the fleet-size and cooldown gates still
// apply so an operator cannot thrash the fleet.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - *types.MigrationPlan: The executed plan, possibly empty when the
//     fleet is already at its targets
//   - int: Streams actually moved
//   - error: types.ErrNoInstancesAvailable, types.ErrRebalanceCooldown,
//     types.ErrRebalanceInProgress, or a storage error
func (b *Balancer) ForceRebalance(ctx context.Context) (*types.MigrationPlan, int, error) {
	active, scores, err := b.survey(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(active) < b.cfg.MinInstances {
		return nil, 0, fmt.Errorf("need at least %d active instances: %w",
			b.cfg.MinInstances, types.ErrNoInstancesAvailable)
	}

	remaining, err := b.cooldownRemaining(ctx)
	if err != nil {
		return nil, 0, err
	}
	if remaining > 0 {
		return nil, 0, fmt.Errorf("%s until next rebalance: %w",
			remaining.Round(time.Second), types.ErrRebalanceCooldown)
	}

	plan := b.PlanMigrations(types.ReasonManual, active, scores)
	if len(plan.Migrations) == 0 {
		b.logger.Info("manual rebalance found nothing to move")

		return plan, 0, nil
	}

	moved, err := b.Execute(ctx, plan)
	if err != nil {
		return plan, moved, err
	}

	return plan, moved, nil
}

// survey loads the active fleet and scores every instance.
//
// Failure weight per instance is derived from its open failure episode:
// one point for the episode plus one per recovery attempt spent on it.
func (b *Balancer) survey(ctx context.Context) ([]types.Instance, map[string]float64, error) {
	instances, err := b.store.ListInstances(ctx)
	if err != nil {
		return nil, nil, err
	}

	failures := make(map[string]int)
	records, err := b.store.ListFailureRecords(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, nil, err
		}
	} else {
		for i := range records {
			failures[records[i].ServerID] = 1 + records[i].RecoveryAttempts
		}
	}

	active := make([]types.Instance, 0, len(instances))
	scores := make(map[string]float64, len(instances))
	for i := range instances {
		if instances[i].Status != types.InstanceActive {
			continue
		}

		active = append(active, instances[i])

		score := Score(&instances[i], failures[instances[i].ServerID])
		scores[instances[i].ServerID] = score
		b.metrics.RecordPerformanceScore(instances[i].ServerID, score)
	}

	return active, scores, nil
}

// cooldownRemaining returns how long until the cooldown from the last
// journaled rebalance expires. Zero means a rebalance may run now.
func (b *Balancer) cooldownRemaining(ctx context.Context) (time.Duration, error) {
	last, err := b.store.LastRebalance(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return 0, nil
		}

		return 0, err
	}

	elapsed := b.now().Sub(last.ExecutedAt)
	if elapsed >= b.cfg.MinRebalanceInterval {
		return 0, nil
	}

	return b.cfg.MinRebalanceInterval - elapsed, nil
}
