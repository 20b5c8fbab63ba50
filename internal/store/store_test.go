package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	streamdtest "github.com/arloliu/streamd/testing"
	"github.com/arloliu/streamd/types"
)

func TestStore_InstanceLifecycle(t *testing.T) {
	ctx := t.Context()
	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)

	inst := &types.Instance{
		ServerID:     "relay-1",
		Host:         "10.0.0.1",
		Port:         8801,
		MaxStreams:   20,
		Status:       types.InstanceActive,
		RegisteredAt: time.Now().UTC(),
	}

	require.NoError(t, st.PutInstance(ctx, inst))

	t.Run("create is first-writer-wins", func(t *testing.T) {
		err := st.PutInstance(ctx, inst)
		require.ErrorIs(t, err, types.ErrAlreadyExists)
	})

	t.Run("get returns the stored row", func(t *testing.T) {
		got, err := st.GetInstance(ctx, "relay-1")
		require.NoError(t, err)
		require.Equal(t, "relay-1", got.ServerID)
		require.Equal(t, 20, got.MaxStreams)
		require.Equal(t, types.InstanceActive, got.Status)
	})

	t.Run("unknown server id maps to ErrNotFound", func(t *testing.T) {
		_, err := st.GetInstance(ctx, "relay-missing")
		require.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("update applies the mutation", func(t *testing.T) {
		updated, err := st.UpdateInstance(ctx, "relay-1", func(i *types.Instance) error {
			i.CurrentStreams = 7

			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 7, updated.CurrentStreams)

		got, err := st.GetInstance(ctx, "relay-1")
		require.NoError(t, err)
		require.Equal(t, 7, got.CurrentStreams)
	})

	t.Run("list is sorted by server id", func(t *testing.T) {
		require.NoError(t, st.PutInstance(ctx, &types.Instance{ServerID: "relay-0", MaxStreams: 5}))

		instances, err := st.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, instances, 2)
		require.Equal(t, "relay-0", instances[0].ServerID)
		require.Equal(t, "relay-1", instances[1].ServerID)
	})
}

func TestStore_UpdateInstanceConcurrent(t *testing.T) {
	ctx := t.Context()
	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)

	require.NoError(t, st.PutInstance(ctx, &types.Instance{ServerID: "relay-1", MaxStreams: 100}))

	// Concurrent increments must all land; the CAS loop absorbs the
	// revision races.
	const writers = 10
	errs := make(chan error, writers)
	for range writers {
		go func() {
			_, err := st.UpdateInstance(ctx, "relay-1", func(i *types.Instance) error {
				i.CurrentStreams++

				return nil
			})
			errs <- err
		}()
	}

	for range writers {
		require.NoError(t, <-errs)
	}

	got, err := st.GetInstance(ctx, "relay-1")
	require.NoError(t, err)
	require.Equal(t, writers, got.CurrentStreams)
}

func TestStore_Heartbeats(t *testing.T) {
	ctx := t.Context()
	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, st.PutHeartbeat(ctx, "relay-1", at))

	got, err := st.GetHeartbeat(ctx, "relay-1")
	require.NoError(t, err)
	require.True(t, got.Equal(at))

	_, err = st.GetHeartbeat(ctx, "relay-2")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, st.PutHeartbeat(ctx, "relay-2", at.Add(time.Second)))

	beats, err := st.ListHeartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, beats, 2)
	require.True(t, beats["relay-2"].After(beats["relay-1"]))
}

func TestStore_WatchHeartbeats(t *testing.T) {
	ctx := t.Context()
	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)

	watcher, err := st.WatchHeartbeats(ctx)
	require.NoError(t, err)
	defer watcher.Stop() //nolint:errcheck // test cleanup

	require.NoError(t, st.PutHeartbeat(ctx, "relay-1", time.Now().UTC()))

	select {
	case entry := <-watcher.Updates():
		require.NotNil(t, entry)
		require.Equal(t, "relay-1", entry.Key())
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver the heartbeat update")
	}
}

func TestStore_FailureRecords(t *testing.T) {
	ctx := t.Context()
	_, nc := streamdtest.StartEmbeddedNATS(t)
	st := streamdtest.NewTestStore(t, nc)

	rec := &types.FailureRecord{
		EpisodeID:       "ep-1",
		ServerID:        "relay-1",
		FailureTime:     time.Now().UTC(),
		Reason:          "heartbeat timeout",
		StreamsAffected: 4,
	}

	require.NoError(t, st.PutFailureRecord(ctx, rec))

	got, err := st.GetFailureRecord(ctx, "relay-1")
	require.NoError(t, err)
	require.Equal(t, "ep-1", got.EpisodeID)
	require.Equal(t, 4, got.StreamsAffected)

	records, err := st.ListFailureRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, st.DeleteFailureRecord(ctx, "relay-1"))
	_, err = st.GetFailureRecord(ctx, "relay-1")
	require.ErrorIs(t, err, types.ErrNotFound)

	// Deleting a closed episode again is a no-op.
	require.NoError(t, st.DeleteFailureRecord(ctx, "relay-1"))
}
