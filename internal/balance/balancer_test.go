package balance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/internal/assign"
	"github.com/arloliu/streamd/internal/hooks"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/internal/registry"
	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/source"
	streamdtest "github.com/arloliu/streamd/testing"
	"github.com/arloliu/streamd/types"
)

type balancerFixture struct {
	balancer    *Balancer
	store       *store.Store
	engine      *assign.Engine
	broadcaster *registry.Broadcaster
	rebalanced  chan int
}

func newBalancerFixture(t *testing.T, cfg Config, streamCount int) *balancerFixture {
	t.Helper()

	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)
	logger := streamdtest.NewTestLogger(t)

	streams := make([]types.Stream, 0, streamCount)
	for i := range streamCount {
		streams = append(streams, types.Stream{
			ID:   fmt.Sprintf("stream-%03d", i),
			Name: fmt.Sprintf("feed-%03d", i),
			URL:  fmt.Sprintf("rtsp://cam-%03d/live", i),
		})
	}

	f := &balancerFixture{
		store:       st,
		engine:      assign.NewEngine(st, source.NewStatic(streams), logger, metrics.NewNop()),
		broadcaster: registry.NewBroadcaster(),
		rebalanced:  make(chan int, 4),
	}

	runner := hooks.NewRunner(types.Hooks{
		OnRebalance: func(_ context.Context, _ types.MigrationPlan, moved int) error {
			f.rebalanced <- moved
			return nil
		},
	}, logger)

	f.balancer = NewBalancer(cfg, st, f.engine, f.broadcaster, runner,
		func() string { return "replica-0" }, logger, metrics.NewNop())

	return f
}

func (f *balancerFixture) seedActive(t *testing.T, serverID string, maxStreams int) {
	t.Helper()

	now := time.Now().UTC()
	err := f.store.PutInstance(t.Context(), &types.Instance{
		ServerID:      serverID,
		Host:          "10.0.0.1",
		Port:          4222,
		MaxStreams:    maxStreams,
		Status:        types.InstanceActive,
		LastHeartbeat: now,
		RegisteredAt:  now,
	})
	require.NoError(t, err)
}

func (f *balancerFixture) grant(t *testing.T, serverID string, count int) {
	t.Helper()

	granted, err := f.engine.RequestStreams(t.Context(), serverID, count)
	require.NoError(t, err)
	require.Len(t, granted, count)
}

func TestBalancer_ForceRebalance_EvensOutTheFleet(t *testing.T) {
	f := newBalancerFixture(t, Config{MinRebalanceInterval: time.Hour}, 10)
	f.seedActive(t, "server-1", 10)
	f.seedActive(t, "server-2", 10)
	f.grant(t, "server-1", 8)
	f.grant(t, "server-2", 2)

	ctx := t.Context()
	plan, moved, err := f.balancer.ForceRebalance(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ReasonManual, plan.Reason)
	require.Equal(t, 3, moved)

	for _, serverID := range []string{"server-1", "server-2"} {
		inst, err := f.store.GetInstance(ctx, serverID)
		require.NoError(t, err)
		require.Equal(t, 5, inst.CurrentStreams, serverID)

		count, err := f.store.CountActiveByServer(ctx, serverID)
		require.NoError(t, err)
		require.Equal(t, 5, count, serverID)
	}

	// No stream ended up actively owned twice.
	assignments, err := f.store.ListAssignments(ctx)
	require.NoError(t, err)
	activeOwners := make(map[string]int)
	for _, asgn := range assignments {
		if asgn.Active() {
			activeOwners[asgn.StreamID]++
		}
	}
	for streamID, owners := range activeOwners {
		require.Equal(t, 1, owners, "stream %s", streamID)
	}

	// The rebalance is journaled and fires the callback.
	last, err := f.store.LastRebalance(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ReasonManual, last.Reason)
	require.Equal(t, 3, last.Planned)
	require.Equal(t, 3, last.Moved)
	require.Equal(t, "replica-0", last.ReplicaID)
	require.GreaterOrEqual(t, last.Version, int64(1))

	select {
	case got := <-f.rebalanced:
		require.Equal(t, 3, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for OnRebalance")
	}

	// The journal entry starts the cooldown window.
	_, _, err = f.balancer.ForceRebalance(ctx)
	require.ErrorIs(t, err, types.ErrRebalanceCooldown)
}

func TestBalancer_ForceRebalance_RequiresMinimumFleet(t *testing.T) {
	f := newBalancerFixture(t, Config{}, 5)
	f.seedActive(t, "server-1", 10)

	_, _, err := f.balancer.ForceRebalance(t.Context())
	require.ErrorIs(t, err, types.ErrNoInstancesAvailable)
}

func TestBalancer_ShouldRebalance_Gates(t *testing.T) {
	f := newBalancerFixture(t, Config{MinRebalanceInterval: time.Hour}, 5)

	ctx := t.Context()
	balanced := []types.Instance{
		{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 5, Status: types.InstanceActive},
		{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 4, Status: types.InstanceActive},
	}
	skewed := []types.Instance{
		{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 8, Status: types.InstanceActive},
		{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 2, Status: types.InstanceActive},
	}

	ok, why, err := f.balancer.ShouldRebalance(ctx, balanced)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "balanced", why)

	ok, why, err = f.balancer.ShouldRebalance(ctx, skewed)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "spread", why)

	ok, why, err = f.balancer.ShouldRebalance(ctx, skewed[:1])
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "insufficient-instances", why)

	// A fresh journal entry gates everything behind the cooldown.
	_, err = f.store.AppendRebalance(ctx, &types.RebalanceRecord{
		Reason:     types.ReasonManual,
		ReplicaID:  "replica-0",
		ExecutedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	ok, why, err = f.balancer.ShouldRebalance(ctx, skewed)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "cooldown", why)
}

func TestBalancer_FailureEventTriggersEvaluation(t *testing.T) {
	cfg := Config{
		CheckInterval:        time.Hour, // only the nudge can trigger
		MinRebalanceInterval: time.Millisecond,
	}
	f := newBalancerFixture(t, cfg, 10)
	f.seedActive(t, "server-1", 10)
	f.seedActive(t, "server-2", 10)
	f.grant(t, "server-1", 8)
	f.grant(t, "server-2", 2)

	ctx := t.Context()
	require.NoError(t, f.balancer.Start(ctx))
	defer func() { _ = f.balancer.Stop() }()

	f.broadcaster.Publish(registry.Event{
		Type:     registry.EventInstanceFailed,
		ServerID: "server-9",
		At:       time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		last, err := f.store.LastRebalance(ctx)
		if errors.Is(err, types.ErrNotFound) {
			return false
		}
		return err == nil && last.Reason == types.ReasonInstanceFailure
	}, 5*time.Second, 25*time.Millisecond, "failure event should trigger a rebalance")

	inst, err := f.store.GetInstance(ctx, "server-2")
	require.NoError(t, err)
	require.Equal(t, 5, inst.CurrentStreams)
}

func TestBalancer_Execute_Serialized(t *testing.T) {
	f := newBalancerFixture(t, Config{}, 5)
	f.seedActive(t, "server-1", 10)
	f.seedActive(t, "server-2", 10)
	f.grant(t, "server-1", 2)

	release := make(chan struct{})
	f.balancer.mover = &blockingMover{release: release, entered: make(chan struct{})}

	plan := &types.MigrationPlan{
		Reason:    types.ReasonManual,
		PlannedAt: time.Now().UTC(),
		Migrations: []types.Migration{{
			ID:           "mig-1",
			FromServerID: "server-1",
			ToServerID:   "server-2",
			StreamCount:  1,
			Reason:       types.ReasonManual,
			Priority:     60,
		}},
	}

	ctx := t.Context()
	firstDone := make(chan error, 1)
	go func() {
		_, err := f.balancer.Execute(ctx, plan)
		firstDone <- err
	}()

	// Wait until the first execution is inside the mover.
	select {
	case <-f.balancer.mover.(*blockingMover).entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first execution never reached the mover")
	}

	_, err := f.balancer.Execute(ctx, plan)
	require.ErrorIs(t, err, types.ErrRebalanceInProgress)

	close(release)
	require.NoError(t, <-firstDone)
}

type blockingMover struct {
	release chan struct{}
	entered chan struct{}
	once    bool
}

func (m *blockingMover) ReleaseStreams(_ context.Context, _ string, streamIDs []string) (int, error) {
	if !m.once {
		m.once = true
		close(m.entered)
	}
	<-m.release

	return len(streamIDs), nil
}

func (m *blockingMover) AssignSpecific(context.Context, string, string) error {
	return nil
}

func TestBalancer_Lifecycle(t *testing.T) {
	f := newBalancerFixture(t, Config{CheckInterval: 50 * time.Millisecond}, 5)

	require.ErrorIs(t, f.balancer.Stop(), types.ErrBalancerNotStarted)

	ctx := t.Context()
	require.NoError(t, f.balancer.Start(ctx))
	require.ErrorIs(t, f.balancer.Start(ctx), types.ErrBalancerAlreadyStarted)

	require.NoError(t, f.balancer.Stop())
	require.NoError(t, f.balancer.Stop(), "stop is idempotent")

	require.ErrorIs(t, f.balancer.Start(ctx), types.ErrBalancerAlreadyStopped)
}
