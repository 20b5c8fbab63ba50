package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// AssertAssignmentsExclusive verifies that the given ledger rows bind each
// stream to at most one instance and that the number of active rows equals
// expectedActive. Rows are grouped by their decoded stream ID, so a claim
// written under a corrupt bucket key still counts against its stream.
//
// Parameters:
//   - t: testing handle
//   - assignments: full ledger contents, active and released
//   - expectedActive: expected number of active rows
func AssertAssignmentsExclusive(t *testing.T, assignments []types.StreamAssignment, expectedActive int) {
	t.Helper()

	owners := make(map[string]string, expectedActive)
	active := 0
	for i := range assignments {
		asgn := &assignments[i]
		if !asgn.Active() {
			continue
		}
		active++
		if prev, ok := owners[asgn.StreamID]; ok {
			t.Fatalf("stream %s has active claims on %s and %s", asgn.StreamID, prev, asgn.ServerID)
		}
		owners[asgn.StreamID] = asgn.ServerID
	}

	if active != expectedActive {
		t.Fatalf("active assignments (%d) do not equal expected total (%d)", active, expectedActive)
	}
}

// LedgerHandle is a direct view on the cluster's KV buckets for checks and
// fault injection the public API does not expose.
type LedgerHandle struct {
	Store *store.Store
	T     *testing.T
}

// ActiveOwners scans the ledger and returns streamID -> owning server for
// every active row, failing the test when a stream carries more than one
// active claim.
func (lh *LedgerHandle) ActiveOwners(ctx context.Context) map[string]string {
	lh.T.Helper()

	assignments, err := lh.Store.ListAssignments(ctx)
	require.NoError(lh.T, err, "ledger scan failed")

	owners := make(map[string]string)
	for i := range assignments {
		asgn := &assignments[i]
		if !asgn.Active() {
			continue
		}
		if prev, ok := owners[asgn.StreamID]; ok {
			lh.T.Fatalf("stream %s has active claims on %s and %s", asgn.StreamID, prev, asgn.ServerID)
		}
		owners[asgn.StreamID] = asgn.ServerID
	}

	return owners
}

// AssertExclusiveOwnership verifies exclusive stream ownership and the
// expected number of active rows in one ledger pass.
func (lh *LedgerHandle) AssertExclusiveOwnership(ctx context.Context, expectedActive int) {
	lh.T.Helper()

	owners := lh.ActiveOwners(ctx)
	require.Len(lh.T, owners, expectedActive, "active assignment count mismatch")
}

// AssertCountersMatchLedger verifies that every active instance's stream
// counter equals its ledger-derived count. Call only when no grants or
// releases are in flight.
func (lh *LedgerHandle) AssertCountersMatchLedger(ctx context.Context) {
	lh.T.Helper()

	instances, err := lh.Store.ListInstances(ctx)
	require.NoError(lh.T, err, "instance scan failed")

	perServer := map[string]int{}
	for _, serverID := range lh.ActiveOwners(ctx) {
		perServer[serverID]++
	}

	for i := range instances {
		inst := &instances[i]
		if inst.Status != types.InstanceActive {
			continue
		}
		require.Equal(lh.T, perServer[inst.ServerID], inst.CurrentStreams,
			"instance %s counter disagrees with ledger", inst.ServerID)
	}
}

// InjectForeignClaim writes an active assignment owned by the given server
// directly into the ledger, bypassing the engine. Used to simulate rows left
// behind by dead workers.
func (lh *LedgerHandle) InjectForeignClaim(ctx context.Context, streamID, serverID string) {
	lh.T.Helper()

	_, err := lh.Store.ClaimAssignment(ctx, streamID, serverID)
	require.NoError(lh.T, err, "failed to inject claim for %s", streamID)
}
