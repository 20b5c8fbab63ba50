package testutil

import (
	"testing"
	"time"

	"github.com/arloliu/streamd/types"
)

func TestAssertAssignmentsExclusive(t *testing.T) {
	now := time.Now().UTC()
	ledger := []types.StreamAssignment{
		{StreamID: "stream-000", ServerID: "server-a", Status: types.AssignmentActive, AssignedAt: now},
		{StreamID: "stream-001", ServerID: "server-b", Status: types.AssignmentActive, AssignedAt: now},
		// Released history rows never count against exclusivity.
		{StreamID: "stream-002", ServerID: "server-a", Status: types.AssignmentReleased, AssignedAt: now, ReleasedAt: now},
	}

	AssertAssignmentsExclusive(t, ledger, 2)
}
