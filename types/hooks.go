package types

import "context"

// Hooks defines callbacks for orchestrator lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the monitoring loops. Hooks receive the orchestrator's
// lifecycle context which will be cancelled during shutdown.
//
// IMPORTANT: Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - The context passed to hooks is cancelled when the orchestrator stops
//   - Hook errors are logged but don't fail orchestrator operations
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Don't block on long I/O operations
//   - Make hooks idempotent (may be called multiple times)
//   - Handle errors gracefully (return error for logging)
type Hooks struct {
	// OnStateChanged is called when the orchestrator lifecycle state
	// transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnInstanceFailed is called when the heartbeat monitor classifies an
	// instance as failed. The failure record describes the episode.
	OnInstanceFailed func(ctx context.Context, record FailureRecord) error

	// OnInstanceRecovered is called when a failed instance returns to
	// active after resynchronization.
	OnInstanceRecovered func(ctx context.Context, serverID string) error

	// OnEmergency is called when an instance crosses the emergency
	// threshold and its assignments are force-released.
	OnEmergency func(ctx context.Context, serverID string, released int) error

	// OnRebalance is called after a migration plan executes.
	// moved counts the streams that actually changed instance.
	OnRebalance func(ctx context.Context, plan MigrationPlan, moved int) error

	// OnConsistencyReport is called after each consistency pass.
	OnConsistencyReport func(ctx context.Context, report ConsistencyReport) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
