package types

import "time"

// AssignmentStatus is the lifecycle status of a ledger row.
type AssignmentStatus string

const (
	// AssignmentActive means the stream is currently bound to an instance.
	AssignmentActive AssignmentStatus = "active"

	// AssignmentReleased means the binding ended. Released rows are kept
	// for audit history, never deleted.
	AssignmentReleased AssignmentStatus = "released"
)

// StreamAssignment binds one stream to one instance.
//
// The ledger holds at most one active row per StreamID at any time; a
// violation of that invariant is a "duplicate assignment" inconsistency
// and is repaired by the consistency checker.
type StreamAssignment struct {
	StreamID string           `json:"stream_id"`
	ServerID string           `json:"server_id"`
	Status   AssignmentStatus `json:"status"`

	AssignedAt time.Time `json:"assigned_at"`

	// ReleasedAt is zero while the assignment is active.
	ReleasedAt time.Time `json:"released_at,omitempty"`
}

// Active reports whether the row still binds the stream to its instance.
func (a *StreamAssignment) Active() bool {
	return a.Status == AssignmentActive
}
