package streamd

import "github.com/arloliu/streamd/types"

// Sentinel errors returned by the Orchestrator.
//
// The canonical definitions live in the types subpackage so internal
// components can return them without importing the root package; they are
// re-exported here for callers. Match with errors.Is.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrStreamSourceRequired is returned when the stream source is nil.
	ErrStreamSourceRequired = types.ErrStreamSourceRequired

	// ErrAlreadyStarted is returned when Start is called on a running
	// orchestrator.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when an operation is attempted before
	// Start or after Stop.
	ErrNotStarted = types.ErrNotStarted

	// ErrReplicaIDClaimFailed is returned when no stable replica ID could
	// be claimed within the configured range.
	ErrReplicaIDClaimFailed = types.ErrReplicaIDClaimFailed

	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = types.ErrElectionFailed

	// ErrInvalidRegistration is returned for malformed registrations,
	// such as a non-positive max stream capacity.
	ErrInvalidRegistration = types.ErrInvalidRegistration

	// ErrUnknownInstance is returned when an operation names a server ID
	// that was never registered.
	ErrUnknownInstance = types.ErrUnknownInstance

	// ErrInstanceInactive is returned when an operation requires an
	// active instance.
	ErrInstanceInactive = types.ErrInstanceInactive

	// ErrStreamTaken is returned when a stream already has an active
	// assignment elsewhere.
	ErrStreamTaken = types.ErrStreamTaken

	// ErrNoInstancesAvailable is returned when rebalancing needs more
	// active instances than the fleet has.
	ErrNoInstancesAvailable = types.ErrNoInstancesAvailable

	// ErrRebalanceCooldown is returned when a rebalance is requested
	// before the cross-replica cooldown has elapsed.
	ErrRebalanceCooldown = types.ErrRebalanceCooldown

	// ErrRebalanceInProgress is returned when a rebalance is requested
	// while another one is executing.
	ErrRebalanceInProgress = types.ErrRebalanceInProgress

	// ErrBreakerOpen is returned when the storage circuit breaker rejects
	// calls without attempting the operation.
	ErrBreakerOpen = types.ErrBreakerOpen

	// ErrRetryBudgetExhausted is returned when a transient failure
	// persisted through the whole retry budget.
	ErrRetryBudgetExhausted = types.ErrRetryBudgetExhausted

	// ErrStoreBusy is returned when the storage access pool is exhausted.
	ErrStoreBusy = types.ErrStoreBusy

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = types.ErrNotFound
)
