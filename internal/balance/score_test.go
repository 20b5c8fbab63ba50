package balance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/types"
)

func TestScore(t *testing.T) {
	t.Run("idle instance scores perfect", func(t *testing.T) {
		inst := &types.Instance{ServerID: "server-1", MaxStreams: 10}

		require.InDelta(t, 1.0, Score(inst, 0), 1e-9)
	})

	t.Run("saturated instance hits the floor", func(t *testing.T) {
		inst := &types.Instance{
			ServerID:   "server-1",
			MaxStreams: 10,
			Metrics: types.InstanceMetrics{
				CPUPercent:        100,
				MemoryPercent:     100,
				LoadAvg:           8,
				AvgResponseMillis: 2500,
			},
		}

		require.InDelta(t, ScoreFloor, Score(inst, 7), 1e-9)
	})

	t.Run("single term weighting", func(t *testing.T) {
		inst := &types.Instance{
			ServerID:   "server-1",
			MaxStreams: 10,
			Metrics:    types.InstanceMetrics{CPUPercent: 50},
		}

		// Half the CPU term is spent: 1.0 - 0.30*0.5.
		require.InDelta(t, 0.85, Score(inst, 0), 1e-9)
	})

	t.Run("failures lower the score", func(t *testing.T) {
		inst := &types.Instance{ServerID: "server-1", MaxStreams: 10}

		clean := Score(inst, 0)
		bruised := Score(inst, 2)
		broken := Score(inst, 5)

		require.Greater(t, clean, bruised)
		require.Greater(t, bruised, broken)
		// Beyond the full scale the penalty saturates.
		require.InDelta(t, broken, Score(inst, 50), 1e-9)
	})

	t.Run("corrupt telemetry is clamped", func(t *testing.T) {
		inst := &types.Instance{
			ServerID:   "server-1",
			MaxStreams: 10,
			Metrics:    types.InstanceMetrics{CPUPercent: 250, MemoryPercent: -40},
		}

		// CPU term fully spent, memory term fully intact.
		require.InDelta(t, 0.70, Score(inst, 0), 1e-9)
	})
}
