package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd"
	"github.com/arloliu/streamd/test/testutil"
)

// TestLifecycle_MultiReplicaStartup verifies three replicas start, claim
// distinct IDs, elect a single leader and settle in Running state.
func TestLifecycle_MultiReplicaStartup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc := testutil.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	cluster := testutil.NewOrchestratorCluster(t, nc, 10)
	for i := 0; i < 3; i++ {
		cluster.AddReplica()
	}
	cluster.StartReplicas(ctx)
	defer cluster.StopReplicas()

	waiters := make([]testutil.StateWaiter, 0, len(cluster.Replicas))
	for _, orch := range cluster.Replicas {
		waiters = append(waiters, orch)
	}
	err := testutil.WaitAllReplicasState(ctx, waiters, streamd.StateRunning, 15*time.Second)
	require.NoError(t, err, "all replicas should reach Running")

	// Distinct replica IDs under the configured prefix.
	seen := make(map[string]bool)
	for i, orch := range cluster.Replicas {
		id := orch.ReplicaID()
		require.NotEmpty(t, id, "replica %d has no ID", i)
		require.False(t, seen[id], "replica ID %s claimed twice", id)
		seen[id] = true
	}
	require.Contains(t, seen, "orch-0", "lowest free ID should be claimed first")

	leader := cluster.VerifyExactlyOneLeader()
	t.Logf("Leader: %s", leader.ReplicaID())

	// Every replica went through the claim and election phases.
	for i, tracker := range cluster.StateTrackers {
		require.True(t, tracker.HasState(streamd.StateClaimingID), "replica %d skipped ClaimingID", i)
		require.True(t, tracker.HasState(streamd.StateElection), "replica %d skipped Election", i)
		require.True(t, tracker.HasState(streamd.StateRunning), "replica %d never reached Running", i)
	}
}

// TestLifecycle_GracefulShutdown verifies stopped replicas end in Shutdown
// state and reject further operations.
func TestLifecycle_GracefulShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc := testutil.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	cluster := testutil.NewOrchestratorCluster(t, nc, 10)
	cluster.AddReplica()
	cluster.AddReplica()
	cluster.StartReplicas(ctx)

	cluster.WaitForRunningState(15 * time.Second)
	cluster.VerifyExactlyOneLeader()

	cluster.StopReplicas()

	for i, orch := range cluster.Replicas {
		require.Equal(t, streamd.StateShutdown, orch.State(), "replica %d should be shutdown", i)
		require.False(t, orch.IsLeader(), "replica %d should not report leadership after stop", i)

		_, err := orch.Register(ctx, "server-x", "127.0.0.1", 9000, 10)
		require.ErrorIs(t, err, streamd.ErrNotStarted, "replica %d should reject operations", i)
	}
}

// TestLifecycle_RestartReclaimsReleasedID verifies a graceful stop frees the
// replica ID for the next starter.
func TestLifecycle_RestartReclaimsReleasedID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc := testutil.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	cluster := testutil.NewOrchestratorCluster(t, nc, 10)
	first := cluster.AddReplica()
	cluster.StartReplicas(ctx)
	defer cluster.StopReplicas()

	require.Equal(t, "orch-0", first.ReplicaID())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, first.Stop(stopCtx))

	// The release is synchronous, so a fresh replica claims the same slot.
	second := cluster.AddReplica()
	require.NoError(t, second.Start(ctx))
	require.Equal(t, "orch-0", second.ReplicaID(), "released ID should be reclaimed")
	require.True(t, second.IsLeader(), "sole replica should win leadership")
}
