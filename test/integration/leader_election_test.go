package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd"
	"github.com/arloliu/streamd/test/testutil"
)

// TestLeaderElection_BasicFailover verifies a surviving replica takes over
// leadership after the leader goes away.
func TestLeaderElection_BasicFailover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc := testutil.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	defer cancel()

	cluster := testutil.NewFastElectionCluster(t, nc, 10)
	for i := 0; i < 3; i++ {
		cluster.AddReplica()
	}
	cluster.StartReplicas(ctx)
	defer cluster.StopReplicas()

	cluster.WaitForRunningState(15 * time.Second)

	oldLeader := cluster.VerifyExactlyOneLeader()
	oldLeaderID := oldLeader.ReplicaID()
	leaderIdx := -1
	for i, orch := range cluster.Replicas {
		if orch == oldLeader {
			leaderIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, leaderIdx, 0, "leader not found in cluster")
	t.Logf("Initial leader: replica %d (%s)", leaderIdx, oldLeaderID)

	cluster.RemoveReplica(leaderIdx)

	// The graceful stop released the lease, so a follower should win the
	// next election cycle.
	newLeader, err := testutil.WaitForLeader(cluster.Replicas, 8*time.Second)
	require.NoError(t, err, "failover did not produce a new leader")
	require.NotEqual(t, oldLeaderID, newLeader.ReplicaID(), "old leader should not lead after stop")
	t.Logf("New leader after failover: %s", newLeader.ReplicaID())

	active := cluster.GetActiveReplicas()
	require.Len(t, active, 2, "two replicas should survive")
	for _, orch := range active {
		require.Equal(t, streamd.StateRunning, orch.State(),
			"replica %s should stay Running through failover", orch.ReplicaID())
	}
	cluster.VerifyExactlyOneLeader()
}

// TestLeaderElection_LeaderRenewal verifies a healthy leader keeps its lease
// across multiple election cycles.
func TestLeaderElection_LeaderRenewal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc := testutil.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	defer cancel()

	cluster := testutil.NewFastElectionCluster(t, nc, 10)
	cluster.AddReplica()
	cluster.AddReplica()
	cluster.StartReplicas(ctx)
	defer cluster.StopReplicas()

	cluster.WaitForRunningState(15 * time.Second)

	leader := cluster.VerifyExactlyOneLeader()
	leaderID := leader.ReplicaID()

	// Four election cycles is plenty for a dropped lease to change hands.
	renewalWindow := 4 * cluster.Config.ElectionTimeout
	t.Logf("Watching lease renewal for %v", renewalWindow)
	deadline := time.Now().Add(renewalWindow)
	for time.Now().Before(deadline) {
		current := cluster.GetLeader()
		require.NotNil(t, current, "cluster lost its leader mid-renewal")
		require.Equal(t, leaderID, current.ReplicaID(), "leadership changed without a failure")
		time.Sleep(200 * time.Millisecond)
	}
}

// TestLeaderElection_FollowerServesReads verifies read operations work from a
// replica that is not the leader.
func TestLeaderElection_FollowerServesReads(t *testing.T) {
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
	defer cluster.StopReplicas()

	cluster.WaitForRunningState(15 * time.Second)

	follower := cluster.GetFollower()
	require.NotNil(t, follower, "cluster has no follower")
	require.False(t, follower.IsLeader())

	status, err := follower.GetStatus(ctx)
	require.NoError(t, err, "follower should serve status reads")
	require.Empty(t, status.Degraded, "all sections should collect cleanly")
	require.Equal(t, 10, status.Streams.Total)
	require.Equal(t, 10, status.Streams.Available)
	require.Equal(t, streamd.SystemHealthy, status.Health)

	instances, err := follower.GetInstances(ctx)
	require.NoError(t, err, "follower should serve instance reads")
	require.Empty(t, instances, "no instances registered yet")
}
