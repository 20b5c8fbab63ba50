package balance

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/types"
)

func newBareBalancer(cfg Config) *Balancer {
	return NewBalancer(cfg, nil, nil, nil, nil, nil, nil, metrics.NewNop())
}

func evenScores(instances []types.Instance) map[string]float64 {
	scores := make(map[string]float64, len(instances))
	for i := range instances {
		scores[instances[i].ServerID] = 1.0
	}

	return scores
}

func TestOptimalDistribution(t *testing.T) {
	b := newBareBalancer(Config{})

	t.Run("equal capacity splits evenly", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 8, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 2, Status: types.InstanceActive},
		}

		targets := b.OptimalDistribution(10, instances, evenScores(instances))
		require.Equal(t, map[string]int{"server-1": 5, "server-2": 5}, targets)
	})

	t.Run("capacity weighting", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 30, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, Status: types.InstanceActive},
		}

		targets := b.OptimalDistribution(20, instances, evenScores(instances))
		require.Equal(t, 15, targets["server-1"])
		require.Equal(t, 5, targets["server-2"])
	})

	t.Run("scores skew the split", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, Status: types.InstanceActive},
		}
		scores := map[string]float64{"server-1": 1.0, "server-2": 0.5}

		targets := b.OptimalDistribution(9, instances, scores)
		require.Equal(t, 6, targets["server-1"])
		require.Equal(t, 3, targets["server-2"])
	})

	t.Run("never exceeds per-instance max nor total", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 4, Status: types.InstanceActive},
		}

		for _, total := range []int{0, 1, 7, 14, 100} {
			targets := b.OptimalDistribution(total, instances, evenScores(instances))

			sum := 0
			for i := range instances {
				target := targets[instances[i].ServerID]
				require.LessOrEqual(t, target, instances[i].MaxStreams)
				sum += target
			}
			require.LessOrEqual(t, sum, total)
		}
	})

	t.Run("zero weighted capacity falls back to equal split", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-3", MaxStreams: 10, Status: types.InstanceActive},
		}
		zero := map[string]float64{}

		// Remainder lands on the first instances in slice order.
		targets := b.OptimalDistribution(7, instances, zero)
		require.Equal(t, 3, targets["server-1"])
		require.Equal(t, 2, targets["server-2"])
		require.Equal(t, 2, targets["server-3"])
	})

	t.Run("overloaded instance gets a drain target", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 20, CurrentStreams: 19, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 20, CurrentStreams: 1, Status: types.InstanceActive},
		}

		targets := b.OptimalDistribution(20, instances, evenScores(instances))

		// server-1 sits above MaxLoadFactor, so its ceiling drops below it.
		require.LessOrEqual(t, targets["server-1"], 18)
		require.GreaterOrEqual(t, targets["server-2"], 2)
	})
}

func TestOptimalDistribution_RandomFleets(t *testing.T) {
	b := newBareBalancer(Config{})
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		instances := make([]types.Instance, 2+rng.Intn(11))
		capacity := 0
		scores := make(map[string]float64, len(instances))
		for i := range instances {
			id := "server-" + strconv.Itoa(i)
			maxStreams := 4 + rng.Intn(37)
			instances[i] = types.Instance{
				ServerID:       id,
				MaxStreams:     maxStreams,
				CurrentStreams: rng.Intn(maxStreams + 1),
				Status:         types.InstanceActive,
			}
			capacity += maxStreams
			scores[id] = 0.10 + 0.90*rng.Float64()
		}
		total := rng.Intn(capacity + 20)

		targets := b.OptimalDistribution(total, instances, scores)
		require.Len(t, targets, len(instances))

		placeable := 0
		sum := 0
		for i := range instances {
			inst := &instances[i]

			// Instances at or above MaxLoadFactor get a reduced ceiling so
			// they drain instead of filling.
			ceiling := inst.MaxStreams
			if inst.LoadFactor() >= b.cfg.MaxLoadFactor {
				ceiling = int(b.cfg.MaxLoadFactor * float64(inst.MaxStreams))
			}
			placeable += ceiling

			target := targets[inst.ServerID]
			require.GreaterOrEqual(t, target, 0)
			require.LessOrEqual(t, target, ceiling)
			sum += target
		}

		// Everything placeable gets placed, nothing more.
		want := total
		if placeable < want {
			want = placeable
		}
		require.Equal(t, want, sum)

		again := b.OptimalDistribution(total, instances, scores)
		require.Equal(t, targets, again)
	}
}

func TestDetectImbalance(t *testing.T) {
	b := newBareBalancer(Config{})

	t.Run("small fleets never trigger", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 10, Status: types.InstanceActive},
		}

		triggered, _ := b.DetectImbalance(instances)
		require.False(t, triggered)
	})

	t.Run("emergency load factor", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 20, CurrentStreams: 19, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 20, CurrentStreams: 18, Status: types.InstanceActive},
		}

		triggered, why := b.DetectImbalance(instances)
		require.True(t, triggered)
		require.Equal(t, "emergency", why)
	})

	t.Run("load factor spread", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 8, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 2, Status: types.InstanceActive},
		}

		triggered, why := b.DetectImbalance(instances)
		require.True(t, triggered)
		require.Equal(t, "spread", why)
	})

	t.Run("absolute stream difference", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 100, CurrentStreams: 6, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 100, CurrentStreams: 0, Status: types.InstanceActive},
		}

		triggered, why := b.DetectImbalance(instances)
		require.True(t, triggered)
		require.Equal(t, "absolute", why)
	})

	t.Run("balanced fleet", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 5, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 4, Status: types.InstanceActive},
		}

		triggered, why := b.DetectImbalance(instances)
		require.False(t, triggered)
		require.Empty(t, why)
	})
}
