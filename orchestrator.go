package streamd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/assign"
	"github.com/arloliu/streamd/internal/balance"
	"github.com/arloliu/streamd/internal/breaker"
	"github.com/arloliu/streamd/internal/consistency"
	"github.com/arloliu/streamd/internal/election"
	"github.com/arloliu/streamd/internal/hooks"
	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/internal/registry"
	"github.com/arloliu/streamd/internal/replicaid"
	"github.com/arloliu/streamd/internal/store"
)

// Orchestrator coordinates stream assignment across a fleet of relay
// server instances.
//
// Orchestrator is the main entry point of the streamd library. It handles:
//   - Instance registration and heartbeat tracking
//   - Stream assignment with at-most-one active owner per stream
//   - Heartbeat monitoring with automatic failure recovery
//   - Load balancing through batched stream migrations
//   - Ledger consistency verification and repair
//
// Multiple replicas may run concurrently against one NATS domain: each
// claims a stable replica ID, one wins leader election and runs the
// periodic loops, and the rest serve requests as followers. Request-path
// operations work from any replica.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - State transitions are atomic and linearizable
//   - Per-server mutations are serialized through the storage layer
//
// Lifecycle:
//   - Create with NewOrchestrator()
//   - Call Start() to claim an identity and begin coordination
//   - Use hooks to react to failures, rebalances and reports
//   - Call Stop() for graceful shutdown
//
// Testing:
// Consumers can define minimal interfaces for mocking:
//
//	type StreamCoordinator interface {
//	    RequestStreams(ctx context.Context, serverID string, requested int) ([]string, error)
//	    ReleaseStreams(ctx context.Context, serverID string, streamIDs []string) (int, error)
//	}
type Orchestrator struct {
	cfg    Config
	conn   *nats.Conn
	source StreamSource

	// Optional dependencies
	electionAgent ElectionAgent
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger

	// Internal components wired at Start
	store      *store.Store
	guard      *breaker.Guard
	registry   *registry.Registry
	engine     *assign.Engine
	events     *registry.Broadcaster
	hookRunner *hooks.Runner
	idClaimer  *replicaid.Claimer
	election   ElectionAgent

	// Leader-only loops, rebuilt for every leadership term
	monitor  *registry.Monitor
	balancer *balance.Balancer
	checker  *consistency.Checker

	// State management
	state     atomic.Int32 // State
	replicaID atomic.Value // string
	isLeader  atomic.Bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewOrchestrator creates a new Orchestrator instance with the provided
// configuration.
//
// The orchestrator coordinates stream-to-instance assignment using NATS
// JetStream KV for persistence, replica identity and leader election.
//
// Returns a concrete *Orchestrator struct following the "accept interfaces,
// return structs" principle. Consumers can define their own interfaces for
// testing if needed.
//
// Parameters:
//   - cfg: Runtime configuration with parsed durations
//   - conn: NATS connection for coordination and persistence
//   - source: Stream catalog for discovering assignable streams
//   - opts: Optional configuration (hooks, metrics, logger, election agent)
//
// Returns:
//   - *Orchestrator: Initialized orchestrator instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := streamd.DefaultConfig()
//	src := source.NewStatic(streams)
//	orch, err := streamd.NewOrchestrator(&cfg, natsConn, src)
func NewOrchestrator(cfg *Config, conn *nats.Conn, source StreamSource, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	if source == nil {
		return nil, ErrStreamSourceRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Apply options
	options := &orchestratorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks
	// everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	// Validate with warnings after logger is available
	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	o := &Orchestrator{
		cfg:           *cfg,
		conn:          conn,
		source:        source,
		electionAgent: options.electionAgent,
		hooks:         hooksInstance,
		metrics:       metricsCollector,
		logger:        loggerInstance,
	}
	o.hookRunner = hooks.NewRunner(*hooksInstance, loggerInstance)

	// Initialize state
	o.state.Store(int32(StateInit))
	o.replicaID.Store("")

	return o, nil
}

// Start initializes and runs the orchestrator.
//
// Blocks until the storage buckets exist, a stable replica ID is claimed
// and leader election has resolved. On the elected leader the heartbeat
// monitor, load balancer and consistency checker loops are running when
// Start returns.
//
// Parameters:
//   - ctx: Context for cancellation; bounded by Config.StartupTimeout
//
// Returns:
//   - error: Startup error or context cancellation
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()

		return ErrAlreadyStarted
	}

	// Create orchestrator context with independent lifetime; the startup
	// context only bounds Start itself.
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	startupCtx := ctx
	if o.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, o.cfg.StartupTimeout)
		defer cancel()
	}

	// Initialize NATS JetStream
	js, err := jetstream.New(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	// Wire the guarded storage layer and ensure its buckets exist
	brkRegistry := breaker.NewRegistry(o.cfg.Breaker, nil, o.logger, o.metrics)
	guard := breaker.NewGuard(brkRegistry, o.cfg.Retry, natsutil.IsTransient, o.logger, o.metrics)
	st := store.New(js, o.cfg.Store, guard, o.logger, o.metrics)
	if err := st.EnsureBuckets(startupCtx); err != nil {
		return fmt.Errorf("failed to ensure storage buckets: %w", err)
	}

	o.guard = guard
	o.store = st

	// Request-path components live for the whole orchestrator lifetime
	o.events = registry.NewBroadcaster()
	o.registry = registry.NewRegistry(st, o.logger, o.metrics)
	o.engine = assign.NewEngine(st, o.source, o.logger, o.metrics)

	// Step 1: Claim stable replica ID
	o.transitionState(o.State(), StateClaimingID)
	if err := o.claimReplicaID(startupCtx); err != nil {
		return err
	}

	// Step 2: Join leader election
	o.transitionState(o.State(), StateElection)
	if err := o.joinElection(startupCtx); err != nil {
		return fmt.Errorf("failed to join election: %w", err)
	}

	// Step 3: If leader, start the periodic loops
	if o.IsLeader() {
		if err := o.startLeaderLoops(); err != nil {
			return err
		}
	}

	// Step 4: Transition to running state
	o.transitionState(o.State(), StateRunning)

	o.logger.Info("orchestrator started",
		"replica_id", o.ReplicaID(),
		"is_leader", o.IsLeader(),
	)

	return nil
}

// Stop gracefully shuts down the orchestrator.
//
// Leader loops finish their current cycle, leadership and the replica ID
// lease are released, and background goroutines are awaited up to the
// context deadline. In-flight migrations not yet committed are simply
// picked up by the next leader's cycle.
//
// Safe to call multiple times; subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: Shutdown error or timeout
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()

	if o.ctx == nil {
		o.mu.Unlock()

		return ErrNotStarted
	}

	// Concurrent Stop() call already shutting down
	currentState := o.State()
	if currentState == StateShutdown {
		o.mu.Unlock()

		return ErrNotStarted
	}

	o.transitionState(currentState, StateShutdown)

	// Cancel orchestrator context to stop leadership monitoring and lease
	// renewal. Keep o.ctx set (even though cancelled) so background
	// goroutines can still select on it.
	o.cancel()
	o.mu.Unlock()

	var shutdownErr error

	// Step 1: Stop leader loops if running
	o.stopLeaderLoops()

	// Step 2: Release leadership if held
	if o.election != nil && o.IsLeader() {
		if err := o.election.ReleaseLeadership(ctx); err != nil {
			o.logError("failed to release leadership", "error", err)
			shutdownErr = fmt.Errorf("leadership release failed: %w", err)
		}
		o.isLeader.Store(false)
	}

	// Step 3: Release stable replica ID (ignore ErrNotClaimed)
	if o.idClaimer != nil {
		if err := o.idClaimer.Release(ctx); err != nil && !errors.Is(err, replicaid.ErrNotClaimed) {
			o.logError("failed to release replica ID", "error", err)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("replica ID release failed: %w", err)
			}
		}
	}

	// Step 4: Wait for background goroutines with timeout
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped gracefully", "replica_id", o.ReplicaID())

		return shutdownErr
	case <-ctx.Done():
		o.logError("shutdown timeout exceeded, some goroutines may still be running")
		if shutdownErr == nil {
			return ctx.Err()
		}

		return fmt.Errorf("shutdown timeout: %w; additional error: %w", ctx.Err(), shutdownErr)
	}
}

// ReplicaID returns the claimed stable replica ID.
//
// Returns:
//   - string: Replica ID (empty if not claimed)
func (o *Orchestrator) ReplicaID() string {
	if id := o.replicaID.Load(); id != nil {
		if str, ok := id.(string); ok {
			return str
		}
	}

	return ""
}

// IsLeader returns true if this replica currently holds leadership.
//
// Returns:
//   - bool: true if leader
func (o *Orchestrator) IsLeader() bool {
	return o.isLeader.Load()
}

// State returns the current orchestrator lifecycle state.
//
// Returns:
//   - State: Current state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// WaitState blocks until the orchestrator reaches the expected state or the
// context is cancelled.
//
// Useful for tests and for synchronizing startup across replicas.
//
// Parameters:
//   - ctx: Context bounding the wait
//   - expected: The state to wait for
//
// Returns:
//   - error: nil once the state is reached, otherwise the context error
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := orch.WaitState(ctx, streamd.StateRunning); err != nil {
//	    log.Fatalf("orchestrator never became ready: %v", err)
//	}
func (o *Orchestrator) WaitState(ctx context.Context, expected State) error {
	if o.State() == expected {
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if o.State() == expected {
				return nil
			}
		}
	}
}

// transitionState transitions to a new state and triggers hooks.
func (o *Orchestrator) transitionState(from, to State) {
	if !o.isValidTransition(from, to) {
		o.logError("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	o.state.Store(int32(to))

	o.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"replica_id", o.ReplicaID(),
	)

	o.hookRunner.StateChanged(o.ctx, from, to)
	o.metrics.RecordStateTransition(from, to, 0)
}

// isValidTransition validates that a state transition is allowed.
//
// Returns:
//   - bool: true if transition is valid, false otherwise
func (o *Orchestrator) isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateInit:       {StateClaimingID, StateShutdown},
		StateClaimingID: {StateElection, StateShutdown},
		StateElection:   {StateRunning, StateShutdown},
		StateRunning:    {StateShutdown},
		StateShutdown:   {}, // Terminal state
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}

	return false
}

// logError logs an error message.
func (o *Orchestrator) logError(msg string, keysAndValues ...any) {
	o.logger.Error(msg, keysAndValues...)
}

// claimReplicaID claims a stable replica ID and starts lease renewal.
func (o *Orchestrator) claimReplicaID(ctx context.Context) error {
	claimer := replicaid.NewClaimer(
		o.store.ReplicaIDBucket(),
		o.cfg.ReplicaIDPrefix,
		o.cfg.ReplicaIDMin,
		o.cfg.ReplicaIDMax,
		o.cfg.ReplicaIDTTL,
		o.logger,
	)
	o.idClaimer = claimer

	replicaID, err := claimer.Claim(ctx)
	if err != nil {
		if errors.Is(err, replicaid.ErrNoAvailableID) {
			return fmt.Errorf("replica ID pool %s-%d..%s-%d exhausted: %w",
				o.cfg.ReplicaIDPrefix, o.cfg.ReplicaIDMin,
				o.cfg.ReplicaIDPrefix, o.cfg.ReplicaIDMax,
				ErrReplicaIDClaimFailed)
		}

		return fmt.Errorf("failed to claim replica ID: %w", err)
	}

	o.replicaID.Store(replicaID)
	o.logger.Info("claimed stable replica ID", "replica_id", replicaID)

	// Renewal must run on the orchestrator's lifecycle context, not the
	// startup context: the startup context ends when Start returns, which
	// would let the ID expire and be reclaimed by another replica.
	if err := claimer.StartRenewal(o.ctx); err != nil {
		return fmt.Errorf("failed to start replica ID renewal: %w", err)
	}

	return nil
}

// joinElection resolves the election agent, campaigns once, and starts the
// leadership monitoring loop.
func (o *Orchestrator) joinElection(ctx context.Context) error {
	agent := o.electionAgent
	if agent == nil {
		if o.cfg.DisableElection {
			agent = election.NewStaticLeader(o.ReplicaID())
		} else {
			agent = election.NewNATSElection(o.store.ElectionBucket(), "leader")
		}
	}
	o.election = agent

	isLeader, err := agent.RequestLeadership(ctx, o.ReplicaID(), o.leaseSeconds())
	if err != nil {
		return fmt.Errorf("failed to request leadership: %w", err)
	}

	o.setLeader(isLeader)

	if isLeader {
		o.logger.Info("elected as leader", "replica_id", o.ReplicaID())
	} else {
		o.logger.Info("participating as follower", "replica_id", o.ReplicaID())
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.monitorLeadership()
	}()

	return nil
}

// leaseSeconds returns the leadership lease duration in whole seconds.
// Sub-second election timeouts still need a one-second lease value.
func (o *Orchestrator) leaseSeconds() int64 {
	lease := int64(o.cfg.ElectionTimeout.Seconds())
	if lease <= 0 {
		lease = 1
	}

	return lease
}

// setLeader updates the leadership flag and records the change.
func (o *Orchestrator) setLeader(isLeader bool) {
	o.isLeader.Store(isLeader)
	o.metrics.RecordLeadershipChange(isLeader)
}

// monitorLeadership renews the leadership lease or campaigns for a vacant
// one, and starts/stops the leader loops on transitions.
func (o *Orchestrator) monitorLeadership() {
	ticker := time.NewTicker(o.cfg.ElectionTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if o.IsLeader() {
				if err := o.election.RenewLeadership(o.ctx); err != nil {
					o.logError("failed to renew leadership", "error", err)
					o.setLeader(false)
					o.logger.Info("lost leadership", "replica_id", o.ReplicaID())
					o.stopLeaderLoops()
				}

				continue
			}

			// Follower: try to claim leadership if vacant
			isLeader, err := o.election.RequestLeadership(o.ctx, o.ReplicaID(), o.leaseSeconds())
			if err != nil {
				o.logError("failed to request leadership", "error", err)

				continue
			}

			if isLeader {
				o.setLeader(true)
				o.logger.Info("became leader", "replica_id", o.ReplicaID())

				if err := o.startLeaderLoops(); err != nil {
					o.logError("failed to start leader loops", "error", err)
				}
			}
		}
	}
}

// startLeaderLoops starts the heartbeat monitor, load balancer and
// consistency checker (leader only).
//
// Monitors, balancers and checkers are not restartable, so every
// leadership term gets fresh instances.
func (o *Orchestrator) startLeaderLoops() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.monitor != nil {
		return nil // Already running
	}

	monitor := registry.NewMonitor(o.cfg.Monitor, o.store, o.engine, o.events, o.hookRunner, o.logger, o.metrics)
	balancer := balance.NewBalancer(o.cfg.Balancer, o.store, o.engine, o.events, o.hookRunner, o.ReplicaID, o.logger, o.metrics)
	checker := consistency.NewChecker(o.cfg.Consistency, o.store, o.engine, o.hookRunner, o.logger, o.metrics)

	if err := monitor.Start(o.ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}
	if err := balancer.Start(o.ctx); err != nil {
		_ = monitor.Stop()

		return fmt.Errorf("failed to start load balancer: %w", err)
	}
	if err := checker.Start(o.ctx); err != nil {
		_ = balancer.Stop()
		_ = monitor.Stop()

		return fmt.Errorf("failed to start consistency checker: %w", err)
	}

	o.monitor = monitor
	o.balancer = balancer
	o.checker = checker

	o.logger.Info("leader loops started", "replica_id", o.ReplicaID())

	return nil
}

// stopLeaderLoops stops the leader-only loops in reverse start order.
// Each loop finishes its current cycle before exiting.
func (o *Orchestrator) stopLeaderLoops() {
	o.mu.Lock()
	monitor, balancer, checker := o.monitor, o.balancer, o.checker
	o.monitor, o.balancer, o.checker = nil, nil, nil
	o.mu.Unlock()

	if monitor == nil && balancer == nil && checker == nil {
		return
	}

	if checker != nil {
		if err := checker.Stop(); err != nil {
			o.logError("failed to stop consistency checker", "error", err)
		}
	}
	if balancer != nil {
		if err := balancer.Stop(); err != nil {
			o.logError("failed to stop load balancer", "error", err)
		}
	}
	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			o.logError("failed to stop heartbeat monitor", "error", err)
		}
	}

	o.logger.Info("leader loops stopped", "replica_id", o.ReplicaID())
}

// requireStarted rejects operations before Start or after Stop.
func (o *Orchestrator) requireStarted() error {
	state := o.State()
	if state == StateInit || state == StateShutdown {
		return ErrNotStarted
	}

	return nil
}
