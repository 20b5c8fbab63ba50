package streamd

import "github.com/arloliu/streamd/types"

// Re-export types from the types subpackage.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root `streamd`
// package, while still providing a convenient `streamd.Instance`,
// `streamd.Logger`, etc. for users.
type (
	State            = types.State
	Instance         = types.Instance
	InstanceStatus   = types.InstanceStatus
	InstanceMetrics  = types.InstanceMetrics
	Stream           = types.Stream
	StreamAssignment = types.StreamAssignment
	AssignmentStatus = types.AssignmentStatus
	FailureRecord    = types.FailureRecord
	MigrationPlan    = types.MigrationPlan
	Migration        = types.Migration
	MigrationReason  = types.MigrationReason
	RebalanceRecord  = types.RebalanceRecord

	ConsistencyReport = types.ConsistencyReport
	StreamIssue       = types.StreamIssue
	RecoveryResult    = types.RecoveryResult
	IssueType         = types.IssueType
	IssueSeverity     = types.IssueSeverity
	RecoveryAction    = types.RecoveryAction

	ClusterStatus   = types.ClusterStatus
	InstanceSummary = types.InstanceSummary
	StreamSummary   = types.StreamSummary
	SystemHealth    = types.SystemHealth
)

// Re-export interfaces from the types subpackage for convenience.
type (
	StreamSource     = types.StreamSource
	ElectionAgent    = types.ElectionAgent
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export State constants from the types subpackage.
const (
	StateInit       = types.StateInit
	StateClaimingID = types.StateClaimingID
	StateElection   = types.StateElection
	StateRunning    = types.StateRunning
	StateShutdown   = types.StateShutdown
)

// Re-export instance status constants from the types subpackage.
const (
	InstanceActive   = types.InstanceActive
	InstanceInactive = types.InstanceInactive
)

// Re-export system health constants from the types subpackage.
const (
	SystemHealthy  = types.SystemHealthy
	SystemDegraded = types.SystemDegraded
	SystemCritical = types.SystemCritical
)
