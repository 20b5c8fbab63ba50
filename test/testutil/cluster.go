package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd"
	"github.com/arloliu/streamd/source"
	streamdtest "github.com/arloliu/streamd/testing"
	"github.com/arloliu/streamd/types"
)

// StartEmbeddedNATS starts an embedded NATS server for integration tests.
// It wraps the streamd/testing package function for convenience; server and
// connection shutdown are registered on t.Cleanup by the wrapped helper.
func StartEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()
	_, nc := streamdtest.StartEmbeddedNATS(t)

	return nc
}

// IntegrationTestConfig provides default configuration for integration tests.
//
// Monitor timings tolerate the 300-500ms heartbeat cadence of simulated
// instances, and the periodic balancer and consistency loops are pushed out
// so scenario tests drive ForceRebalance and RunConsistencyCheck explicitly.
func IntegrationTestConfig() streamd.Config {
	cfg := streamd.TestConfig()
	cfg.ReplicaIDPrefix = "orch"
	cfg.ReplicaIDMax = 10

	cfg.Monitor.PollInterval = 200 * time.Millisecond
	cfg.Monitor.WarningThreshold = 2 * time.Second
	cfg.Monitor.Timeout = 5 * time.Second
	cfg.Monitor.EmergencyThreshold = 10 * time.Second

	cfg.Balancer.CheckInterval = time.Hour
	cfg.Balancer.MinRebalanceInterval = 500 * time.Millisecond
	cfg.Consistency.CheckInterval = time.Hour
	cfg.Consistency.WarningThreshold = cfg.Monitor.WarningThreshold

	return cfg
}

// FastElectionConfig provides aggressive lease timings for leader failover
// tests. Use this for tests that focus on leader election and don't need
// heartbeat monitoring; detection thresholds are relaxed so instance fleets
// stay out of the picture.
func FastElectionConfig() streamd.Config {
	cfg := streamd.TestConfig()
	cfg.ReplicaIDPrefix = "orch"
	cfg.ReplicaIDMax = 20
	cfg.ReplicaIDTTL = 30 * time.Second // long claim so IDs survive concurrent startup
	cfg.ElectionTimeout = 1 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Store.LeaderTTL = 2 * time.Second

	cfg.Monitor.PollInterval = 1 * time.Second
	cfg.Monitor.WarningThreshold = 10 * time.Second
	cfg.Monitor.Timeout = 30 * time.Second
	cfg.Monitor.EmergencyThreshold = 45 * time.Second

	cfg.Balancer.CheckInterval = time.Hour
	cfg.Consistency.CheckInterval = time.Hour
	cfg.Consistency.WarningThreshold = cfg.Monitor.WarningThreshold

	return cfg
}

// CreateTestCatalog creates a static catalog of n streams for testing.
func CreateTestCatalog(n int) []types.Stream {
	streams := make([]types.Stream, n)
	for i := range streams {
		streams[i] = types.Stream{
			ID:   fmt.Sprintf("stream-%03d", i),
			Name: fmt.Sprintf("Channel %03d", i),
		}
	}

	return streams
}

// StateTracker tracks state transitions for a replica.
type StateTracker struct {
	ReplicaIndex int
	States       []streamd.State
	T            *testing.T
}

// CreateStateTracker creates a new state tracker.
func CreateStateTracker(t *testing.T, replicaIndex int) *StateTracker {
	return &StateTracker{
		ReplicaIndex: replicaIndex,
		States:       make([]streamd.State, 0),
		T:            t,
	}
}

// Hook returns a hook function for tracking state changes.
func (st *StateTracker) Hook() func(context.Context, streamd.State, streamd.State) error {
	return func(ctx context.Context, from, to streamd.State) error {
		st.T.Logf("Replica %d: %s -> %s", st.ReplicaIndex, from.String(), to.String())
		st.States = append(st.States, to)
		return nil
	}
}

// HasState checks if the replica went through a specific state.
func (st *StateTracker) HasState(state streamd.State) bool {
	for _, s := range st.States {
		if s == state {
			return true
		}
	}

	return false
}

// OrchestratorCluster manages a group of orchestrator replicas for testing.
//
// All replicas share one NATS connection and one static stream catalog, so
// they elect a single leader and coordinate through the same KV buckets.
type OrchestratorCluster struct {
	Replicas      []*streamd.Orchestrator
	StateTrackers []*StateTracker
	Config        streamd.Config
	Catalog       []types.Stream
	Source        *source.Static
	NC            *nats.Conn
	T             *testing.T
}

// NewOrchestratorCluster creates a new replica cluster for testing.
func NewOrchestratorCluster(t *testing.T, nc *nats.Conn, catalogSize int) *OrchestratorCluster {
	return newCluster(t, nc, catalogSize, IntegrationTestConfig())
}

// NewFastElectionCluster creates a cluster with aggressive lease timings for
// leader failover tests.
func NewFastElectionCluster(t *testing.T, nc *nats.Conn, catalogSize int) *OrchestratorCluster {
	return newCluster(t, nc, catalogSize, FastElectionConfig())
}

// NewClusterWithConfig creates a cluster with a caller-supplied configuration,
// typically built from a TimingProfile. The configuration must keep the test
// bucket prefix from streamd.TestConfig for Ledger to work.
func NewClusterWithConfig(t *testing.T, nc *nats.Conn, catalogSize int, cfg streamd.Config) *OrchestratorCluster {
	return newCluster(t, nc, catalogSize, cfg)
}

func newCluster(t *testing.T, nc *nats.Conn, catalogSize int, cfg streamd.Config) *OrchestratorCluster {
	catalog := CreateTestCatalog(catalogSize)

	return &OrchestratorCluster{
		Replicas:      make([]*streamd.Orchestrator, 0),
		StateTrackers: make([]*StateTracker, 0),
		Config:        cfg,
		Catalog:       catalog,
		Source:        source.NewStatic(catalog),
		NC:            nc,
		T:             t,
	}
}

// AddReplica adds a replica to the cluster with state tracking.
//
// An optional logger can be passed to enable debug logging for
// troubleshooting:
//
//	debugLogger := streamdtest.NewTestLogger(t)
//	cluster.AddReplica(debugLogger)
//
// Without a logger, the replica will use the default no-op logger.
//
// Parameters:
//   - opts: Optional logger for debug output
//
// Returns:
//   - *streamd.Orchestrator: The created replica
func (oc *OrchestratorCluster) AddReplica(opts ...types.Logger) *streamd.Orchestrator {
	replicaIdx := len(oc.Replicas)
	tracker := CreateStateTracker(oc.T, replicaIdx)
	oc.StateTrackers = append(oc.StateTrackers, tracker)

	hooks := &streamd.Hooks{
		OnStateChanged: tracker.Hook(),
	}

	orchOpts := []streamd.Option{streamd.WithHooks(hooks)}
	if len(opts) > 0 && opts[0] != nil {
		orchOpts = append(orchOpts, streamd.WithLogger(opts[0]))
	}

	orch, err := streamd.NewOrchestrator(&oc.Config, oc.NC, oc.Source, orchOpts...)
	require.NoError(oc.T, err, "failed to create replica %d", replicaIdx)

	oc.Replicas = append(oc.Replicas, orch)

	return orch
}

// StartReplicas starts all replicas in the cluster.
func (oc *OrchestratorCluster) StartReplicas(ctx context.Context) {
	for i, orch := range oc.Replicas {
		err := orch.Start(ctx)
		require.NoError(oc.T, err, "replica %d failed to start", i)
	}
}

// StopReplicas stops all replicas gracefully.
// Skips replicas that are already in Shutdown state.
func (oc *OrchestratorCluster) StopReplicas() {
	for i, orch := range oc.Replicas {
		if orch.State() == streamd.StateShutdown {
			oc.T.Logf("Replica %d already shutdown, skipping", i)
			continue
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		// Stop in goroutine with timeout to prevent hanging
		done := make(chan error, 1)
		go func() {
			done <- orch.Stop(stopCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				oc.T.Logf("Replica %d stop error (non-fatal): %v", i, err)
			}
		case <-time.After(5 * time.Second):
			oc.T.Logf("Replica %d stop timeout after 5s (non-fatal)", i)
		}

		cancel()
	}
}

// WaitForRunningState waits for all replicas to reach Running state.
func (oc *OrchestratorCluster) WaitForRunningState(timeout time.Duration) {
	require.Eventually(oc.T, func() bool {
		runningCount := 0
		for i, orch := range oc.Replicas {
			state := orch.State()
			if state != streamd.StateRunning {
				oc.T.Logf("Replica %d (%s) in state: %s (leader: %v)",
					i, orch.ReplicaID(), state.String(), orch.IsLeader())
			} else {
				runningCount++
			}
		}
		oc.T.Logf("Running replicas: %d/%d", runningCount, len(oc.Replicas))

		return runningCount == len(oc.Replicas)
	}, timeout, 200*time.Millisecond, "replicas did not reach Running state")
}

// VerifyExactlyOneLeader verifies that exactly one replica is the leader.
func (oc *OrchestratorCluster) VerifyExactlyOneLeader() *streamd.Orchestrator {
	leaderCount := 0
	var leader *streamd.Orchestrator
	for i, orch := range oc.Replicas {
		// Skip shutdown replicas
		if orch.State() == streamd.StateShutdown {
			continue
		}
		if orch.IsLeader() {
			leaderCount++
			leader = orch
			oc.T.Logf("Replica %d (%s) is the leader", i, orch.ReplicaID())
		}
	}
	require.Equal(oc.T, 1, leaderCount, "expected exactly one leader")

	return leader
}

// GetLeader returns the current leader or nil.
func (oc *OrchestratorCluster) GetLeader() *streamd.Orchestrator {
	for _, orch := range oc.Replicas {
		if orch.State() != streamd.StateShutdown && orch.IsLeader() {
			return orch
		}
	}

	return nil
}

// GetFollower returns the first running replica that is not the leader, or nil.
func (oc *OrchestratorCluster) GetFollower() *streamd.Orchestrator {
	for _, orch := range oc.Replicas {
		if orch.State() == streamd.StateRunning && !orch.IsLeader() {
			return orch
		}
	}

	return nil
}

// RemoveReplica stops a replica (simulates the process going away).
// The replica stays in the Replicas slice to avoid index issues; tests
// should account for shutdown replicas when counting leaders.
func (oc *OrchestratorCluster) RemoveReplica(index int) {
	require.Less(oc.T, index, len(oc.Replicas), "invalid replica index")

	orch := oc.Replicas[index]
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := orch.Stop(stopCtx)
	require.NoError(oc.T, err, "failed to stop replica %d", index)

	oc.T.Logf("Removed replica %d (%s)", index, orch.ReplicaID())
}

// GetActiveReplicas returns only the replicas that are not in Shutdown state.
func (oc *OrchestratorCluster) GetActiveReplicas() []*streamd.Orchestrator {
	active := make([]*streamd.Orchestrator, 0, len(oc.Replicas))
	for _, orch := range oc.Replicas {
		if orch.State() != streamd.StateShutdown {
			active = append(active, orch)
		}
	}

	return active
}

// Ledger opens a read handle on the same KV buckets the cluster's replicas
// use, for invariant checks and fault injection. Requires the cluster config
// to keep the test bucket prefix from streamd.TestConfig.
func (oc *OrchestratorCluster) Ledger() *LedgerHandle {
	return &LedgerHandle{Store: streamdtest.NewTestStore(oc.T, oc.NC), T: oc.T}
}
