package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd"
	"github.com/arloliu/streamd/types"
)

// nextInstancePort hands out distinct port numbers for simulated instance
// registrations. Nothing listens on them; they only make Addr() values
// distinguishable in logs.
var nextInstancePort atomic.Int32

// SimulatedInstance drives the orchestrator's worker-facing operations the
// way a relay process would: register once, heartbeat on a ticker, pull
// streams when it has spare capacity and release them when done.
//
// The instance tracks the streams it believes it serves; the heartbeat loop
// reports that count together with the configured telemetry.
type SimulatedInstance struct {
	ServerID   string
	MaxStreams int

	t        *testing.T
	interval time.Duration

	mu      sync.Mutex
	orch    *streamd.Orchestrator
	held    map[string]struct{}
	metrics types.InstanceMetrics

	paused   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartSimulatedInstance registers a simulated relay instance and starts its
// heartbeat loop.
//
// The loop beats once immediately and then every interval until
// StopHeartbeats or Shutdown. Heartbeat errors are logged and retried on the
// next tick, so a replica stopping mid-test does not fail the run. The loop
// is stopped on t.Cleanup even when the test never stops it explicitly.
//
// Parameters:
//   - t: Test instance
//   - orch: Replica the instance talks to
//   - serverID: Stable instance identifier
//   - maxStreams: Declared capacity ceiling
//   - interval: Heartbeat cadence
//
// Returns:
//   - *SimulatedInstance: Running instance
func StartSimulatedInstance(t *testing.T, orch *streamd.Orchestrator, serverID string, maxStreams int, interval time.Duration) *SimulatedInstance {
	t.Helper()

	port := 7000 + int(nextInstancePort.Add(1))

	regCtx, regCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer regCancel()

	_, err := orch.Register(regCtx, serverID, "127.0.0.1", port, maxStreams)
	require.NoError(t, err, "failed to register instance %s", serverID)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	si := &SimulatedInstance{
		ServerID:   serverID,
		MaxStreams: maxStreams,
		t:          t,
		interval:   interval,
		orch:       orch,
		held:       make(map[string]struct{}),
		cancel:     loopCancel,
		done:       make(chan struct{}),
	}

	go si.heartbeatLoop(loopCtx)
	t.Cleanup(si.StopHeartbeats)

	return si
}

func (si *SimulatedInstance) heartbeatLoop(ctx context.Context) {
	defer close(si.done)

	// Beat immediately so the detection window starts fresh.
	si.beat(ctx)

	ticker := time.NewTicker(si.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !si.paused.Load() {
				si.beat(ctx)
			}
		}
	}
}

func (si *SimulatedInstance) beat(ctx context.Context) {
	si.mu.Lock()
	orch := si.orch
	count := len(si.held)
	metrics := si.metrics
	si.mu.Unlock()

	beatCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := orch.Heartbeat(beatCtx, si.ServerID, count, types.InstanceActive, metrics); err != nil {
		// The replica may be stopping or mid-failover; the next tick retries.
		si.t.Logf("instance %s heartbeat error: %v", si.ServerID, err)
	}
}

// Pull requests up to n streams from the orchestrator and records what was
// granted. Receiving fewer than n streams is a normal outcome when the pool
// is drained.
func (si *SimulatedInstance) Pull(ctx context.Context, n int) []string {
	si.t.Helper()

	si.mu.Lock()
	orch := si.orch
	si.mu.Unlock()

	granted, err := orch.RequestStreams(ctx, si.ServerID, n)
	require.NoError(si.t, err, "instance %s failed to pull streams", si.ServerID)

	si.mu.Lock()
	for _, id := range granted {
		si.held[id] = struct{}{}
	}
	si.mu.Unlock()

	return granted
}

// ReleaseN returns n held streams to the pool and returns their IDs.
func (si *SimulatedInstance) ReleaseN(ctx context.Context, n int) []string {
	si.t.Helper()

	si.mu.Lock()
	orch := si.orch
	victims := make([]string, 0, n)
	for id := range si.held {
		if len(victims) == n {
			break
		}
		victims = append(victims, id)
	}
	si.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}

	_, err := orch.ReleaseStreams(ctx, si.ServerID, victims)
	require.NoError(si.t, err, "instance %s failed to release streams", si.ServerID)

	si.mu.Lock()
	for _, id := range victims {
		delete(si.held, id)
	}
	si.mu.Unlock()

	return victims
}

// Held returns the stream IDs the instance believes it serves.
func (si *SimulatedInstance) Held() []string {
	si.mu.Lock()
	defer si.mu.Unlock()

	ids := make([]string, 0, len(si.held))
	for id := range si.held {
		ids = append(ids, id)
	}

	return ids
}

// HeldCount returns how many streams the instance believes it serves.
func (si *SimulatedInstance) HeldCount() int {
	si.mu.Lock()
	defer si.mu.Unlock()

	return len(si.held)
}

// SetMetrics updates the telemetry reported on the next heartbeat.
func (si *SimulatedInstance) SetMetrics(m types.InstanceMetrics) {
	si.mu.Lock()
	si.metrics = m
	si.mu.Unlock()
}

// Retarget points the instance's operations at a different replica, as a
// worker would after its orchestrator endpoint failed over.
func (si *SimulatedInstance) Retarget(orch *streamd.Orchestrator) {
	si.mu.Lock()
	si.orch = orch
	si.mu.Unlock()
}

// SyncFromLedger reconciles the held set with the assignment ledger, the
// refresh a worker performs after being told its assignments moved.
func (si *SimulatedInstance) SyncFromLedger(ctx context.Context, ledger *LedgerHandle) {
	si.t.Helper()

	active, err := ledger.Store.ListActiveByServer(ctx, si.ServerID)
	require.NoError(si.t, err, "ledger sync for %s failed", si.ServerID)

	held := make(map[string]struct{}, len(active))
	for i := range active {
		held[active[i].StreamID] = struct{}{}
	}

	si.mu.Lock()
	si.held = held
	si.mu.Unlock()
}

// PauseHeartbeats suspends the heartbeat loop without releasing held
// streams, simulating an unresponsive worker that is still running.
func (si *SimulatedInstance) PauseHeartbeats() {
	si.paused.Store(true)
}

// ResumeHeartbeats restarts reporting after PauseHeartbeats; the next beat
// lands within one tick interval.
func (si *SimulatedInstance) ResumeHeartbeats() {
	si.paused.Store(false)
}

// StopHeartbeats stops the heartbeat loop permanently without releasing held
// streams, simulating a crash. Safe to call more than once; returns after
// the loop has exited.
func (si *SimulatedInstance) StopHeartbeats() {
	si.stopOnce.Do(si.cancel)
	<-si.done
}

// Shutdown releases every held stream and stops the heartbeat loop,
// simulating a graceful drain.
func (si *SimulatedInstance) Shutdown(ctx context.Context) {
	si.t.Helper()

	si.mu.Lock()
	orch := si.orch
	ids := make([]string, 0, len(si.held))
	for id := range si.held {
		ids = append(ids, id)
	}
	si.mu.Unlock()

	if len(ids) > 0 {
		_, err := orch.ReleaseStreams(ctx, si.ServerID, ids)
		require.NoError(si.t, err, "instance %s failed to drain", si.ServerID)
	}

	si.mu.Lock()
	si.held = make(map[string]struct{})
	si.mu.Unlock()

	si.StopHeartbeats()
}
