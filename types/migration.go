package types

import (
	"math"
	"time"
)

// MigrationReason classifies what triggered a migration plan.
type MigrationReason string

const (
	// ReasonInstanceFailure means streams are being moved off a failed
	// instance.
	ReasonInstanceFailure MigrationReason = "instance-failure"

	// ReasonPerformanceDegradation means a source instance's performance
	// score dropped enough to shed load.
	ReasonPerformanceDegradation MigrationReason = "performance-degradation"

	// ReasonLoadImbalance means the load spread across instances exceeded
	// the configured threshold.
	ReasonLoadImbalance MigrationReason = "load-imbalance"

	// ReasonManual means an operator requested the rebalance.
	ReasonManual MigrationReason = "manual"

	// ReasonNewInstance means a fresh instance joined and should absorb
	// load.
	ReasonNewInstance MigrationReason = "new-instance"
)

// BasePriority ranks migration triggers. Failure-driven migrations always
// outrank planned ones.
func (r MigrationReason) BasePriority() int {
	switch r {
	case ReasonInstanceFailure:
		return 100
	case ReasonPerformanceDegradation:
		return 80
	case ReasonLoadImbalance:
		return 70
	case ReasonManual:
		return 60
	case ReasonNewInstance:
		return 50
	default:
		return 0
	}
}

// Migration is one planned movement of a number of streams from one
// instance to another. Plans are count-driven; which specific stream IDs
// move is decided at execution time (oldest-assigned-first).
type Migration struct {
	// ID uniquely identifies the migration for tracing.
	ID string `json:"id"`

	FromServerID string `json:"from_server_id"`
	ToServerID   string `json:"to_server_id"`

	// StreamCount is how many streams this migration moves.
	StreamCount int `json:"stream_count"`

	Reason MigrationReason `json:"reason"`

	// Priority orders execution: BasePriority(reason) plus a bonus of
	// round(targetScore * 20), so stronger targets fill first.
	Priority int `json:"priority"`
}

// MigrationPriority computes a migration's execution priority from its
// trigger and the target instance's performance score.
func MigrationPriority(reason MigrationReason, targetScore float64) int {
	return reason.BasePriority() + int(math.Round(targetScore*20))
}

// MigrationPlan is the balancer's output for one rebalance cycle, sorted by
// descending priority.
type MigrationPlan struct {
	Migrations []Migration     `json:"migrations"`
	Reason     MigrationReason `json:"reason"`
	PlannedAt  time.Time       `json:"planned_at"`
}

// TotalStreams returns the number of streams the plan intends to move.
func (p *MigrationPlan) TotalStreams() int {
	total := 0
	for _, m := range p.Migrations {
		total += m.StreamCount
	}

	return total
}

// RebalanceRecord is one journal entry describing an executed rebalance.
//
// The journal is append-only with monotonically increasing versions; the
// latest entry drives the cross-replica cooldown check.
type RebalanceRecord struct {
	// Version is assigned by the journal on append, strictly increasing
	// across all orchestrator replicas.
	Version int64 `json:"version"`

	Reason MigrationReason `json:"reason"`

	// Planned and Moved count intended versus actually moved streams.
	Planned int `json:"planned"`
	Moved   int `json:"moved"`

	// ReplicaID names the orchestrator replica that executed the plan.
	ReplicaID string `json:"replica_id"`

	ExecutedAt time.Time `json:"executed_at"`
}
