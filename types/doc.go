// Package types provides core type definitions and interfaces for the streamd library.
//
// This package contains shared types that are used across multiple packages in the
// streamd library. By keeping these types in a separate package, we avoid import
// cycles between the main streamd package and its internal implementations.
//
// Key types:
//   - State: Orchestrator lifecycle state
//   - Instance: Registered relay worker with capacity and liveness
//   - StreamAssignment: Binding of one stream to one instance
//   - FailureRecord: One instance failure episode
//   - ConsistencyReport: Output of one reconciliation pass
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
//   - StreamSource: Read-only catalog of assignable streams
package types
