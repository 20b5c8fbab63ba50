package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd"
)

// fakeWaiter is a StateWaiter test double. It reaches the expected state
// after delay, or never when reach is false.
type fakeWaiter struct {
	delay time.Duration
	reach bool
}

func (f *fakeWaiter) WaitState(ctx context.Context, _ streamd.State) error {
	if !f.reach {
		<-ctx.Done()
		return ctx.Err()
	}

	timer := time.NewTimer(f.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestWaitAllReplicasState(t *testing.T) {
	t.Run("all reach state", func(t *testing.T) {
		replicas := []StateWaiter{
			&fakeWaiter{delay: 10 * time.Millisecond, reach: true},
			&fakeWaiter{delay: 20 * time.Millisecond, reach: true},
			&fakeWaiter{delay: 30 * time.Millisecond, reach: true},
		}

		err := WaitAllReplicasState(t.Context(), replicas, streamd.StateRunning, time.Second)
		require.NoError(t, err)
	})

	t.Run("one times out", func(t *testing.T) {
		replicas := []StateWaiter{
			&fakeWaiter{delay: 10 * time.Millisecond, reach: true},
			&fakeWaiter{reach: false},
		}

		err := WaitAllReplicasState(t.Context(), replicas, streamd.StateRunning, 100*time.Millisecond)
		require.Error(t, err)
		require.Contains(t, err.Error(), "replica[1]")
	})

	t.Run("empty slice", func(t *testing.T) {
		err := WaitAllReplicasState(t.Context(), nil, streamd.StateRunning, time.Second)
		require.NoError(t, err)
	})

	t.Run("parent cancellation abandons wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		replicas := []StateWaiter{
			&fakeWaiter{reach: false},
			&fakeWaiter{reach: false},
		}

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := WaitAllReplicasState(ctx, replicas, streamd.StateRunning, 10*time.Second)
		require.Error(t, err)
		require.Less(t, time.Since(start), 5*time.Second, "cancellation should not wait out the timeout")
	})
}

func TestWaitAnyReplicaState(t *testing.T) {
	t.Run("first success wins", func(t *testing.T) {
		replicas := []StateWaiter{
			&fakeWaiter{reach: false},
			&fakeWaiter{delay: 10 * time.Millisecond, reach: true},
		}

		idx, err := WaitAnyReplicaState(replicas, streamd.StateRunning, 500*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, 1, idx)
	})

	t.Run("all fail", func(t *testing.T) {
		replicas := []StateWaiter{
			&fakeWaiter{reach: false},
			&fakeWaiter{reach: false},
		}

		idx, err := WaitAnyReplicaState(replicas, streamd.StateRunning, 50*time.Millisecond)
		require.Error(t, err)
		require.Equal(t, -1, idx)
		require.Contains(t, err.Error(), "all replicas failed")
	})

	t.Run("empty slice", func(t *testing.T) {
		idx, err := WaitAnyReplicaState(nil, streamd.StateRunning, time.Second)
		require.Error(t, err)
		require.Equal(t, -1, idx)
	})
}
