package types

import "errors"

// Sentinel errors for the streamd library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Orchestrator, Store, Breaker, Registry, etc.)
//   - Use consistent messages across similar error types

// Orchestrator errors - Public API errors returned by the Orchestrator.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrStreamSourceRequired is returned when the stream source is nil.
	ErrStreamSourceRequired = errors.New("stream source is required")

	// ErrAlreadyStarted is returned when Start is called on an already running orchestrator.
	ErrAlreadyStarted = errors.New("orchestrator already started")

	// ErrNotStarted is returned when operations require a started orchestrator.
	ErrNotStarted = errors.New("orchestrator not started")

	// ErrNotLeader is returned when a leader-only operation is invoked on a
	// follower replica.
	ErrNotLeader = errors.New("replica is not the leader")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	// This is used to distinguish network failures from application errors.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrReplicaIDClaimFailed is returned when stable replica ID claiming fails.
	ErrReplicaIDClaimFailed = errors.New("failed to claim stable replica ID")
)

// Store errors - Storage access layer errors.
var (
	// ErrStoreBusy is returned when no in-flight permit became available
	// within the acquisition timeout. Counts as one breaker failure.
	ErrStoreBusy = errors.New("storage access pool exhausted")

	// ErrRevisionConflict is returned when a compare-and-swap update lost
	// to a concurrent writer and the retry budget ran out.
	ErrRevisionConflict = errors.New("storage revision conflict")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a row that is already
	// present. Callers typically fall back to an update.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStreamTaken is returned when claiming an assignment that another
	// instance holds active.
	ErrStreamTaken = errors.New("stream already actively assigned")
)

// Breaker errors - Circuit breaker and retry guard errors.
var (
	// ErrBreakerOpen is returned when a call is short-circuited because
	// the breaker for its service key is open. No underlying attempt is
	// made.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	// ErrRetryBudgetExhausted is returned when all retry attempts for one
	// call failed.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// Registry errors - Instance registry and heartbeat monitor errors.
var (
	// ErrInvalidRegistration is returned for malformed registrations
	// (empty server ID, non-positive max streams).
	ErrInvalidRegistration = errors.New("invalid registration")

	// ErrUnknownInstance is returned when an operation references a server
	// ID that was never registered.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrInstanceInactive is returned when a grant is requested by an
	// instance currently marked inactive.
	ErrInstanceInactive = errors.New("instance is inactive")

	// ErrInstanceAtCapacity is returned when a targeted grant would push an
	// instance past its declared MaxStreams. Pull-based grants never see
	// this; they shrink to the remaining capacity instead.
	ErrInstanceAtCapacity = errors.New("instance at capacity")

	// ErrMonitorAlreadyStarted is returned when Start is called on an already running monitor.
	ErrMonitorAlreadyStarted = errors.New("heartbeat monitor already started")

	// ErrMonitorNotStarted is returned when operations require a started monitor.
	ErrMonitorNotStarted = errors.New("heartbeat monitor not started")

	// ErrMonitorAlreadyStopped is returned when Start is called after Stop.
	// Monitors are not restartable.
	ErrMonitorAlreadyStopped = errors.New("heartbeat monitor already stopped")
)

// Balance errors - Load balancer errors.
var (
	// ErrNoInstancesAvailable is returned when planning requires at least
	// one active instance and none exist.
	ErrNoInstancesAvailable = errors.New("no active instances available")

	// ErrRebalanceCooldown is returned when a rebalance is refused because
	// the previous one ran too recently.
	ErrRebalanceCooldown = errors.New("rebalance cooldown in effect")

	// ErrRebalanceInProgress is returned when a rebalance is already
	// executing.
	ErrRebalanceInProgress = errors.New("rebalance already in progress")

	// ErrBalancerAlreadyStarted is returned when Start is called on a
	// running balancer.
	ErrBalancerAlreadyStarted = errors.New("load balancer already started")

	// ErrBalancerNotStarted is returned when operations require a started
	// balancer.
	ErrBalancerNotStarted = errors.New("load balancer not started")

	// ErrBalancerAlreadyStopped is returned when Start is called after
	// Stop. Balancers are not restartable.
	ErrBalancerAlreadyStopped = errors.New("load balancer already stopped")
)

// Consistency errors - Consistency checker errors.
var (
	// ErrCheckerAlreadyStarted is returned when Start is called on a
	// running checker.
	ErrCheckerAlreadyStarted = errors.New("consistency checker already started")

	// ErrCheckerNotStarted is returned when operations require a started
	// checker.
	ErrCheckerNotStarted = errors.New("consistency checker not started")

	// ErrCheckerAlreadyStopped is returned when Start is called after
	// Stop. Checkers are not restartable.
	ErrCheckerAlreadyStopped = errors.New("consistency checker already stopped")
)

// Election errors - Leader election errors.
var (
	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = errors.New("leader election failed")
)

// IsRetriable reports whether an error represents a transient condition the
// caller may retry: pool exhaustion, revision conflicts, and connectivity
// issues qualify; validation and capacity outcomes do not.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStoreBusy) ||
		errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, ErrConnectivity)
}
