package balance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/types"
)

func TestPlanMigrations(t *testing.T) {
	b := newBareBalancer(Config{})

	t.Run("balances a skewed pair", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 8, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 2, Status: types.InstanceActive},
		}

		plan := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))

		require.Len(t, plan.Migrations, 1)
		m := plan.Migrations[0]
		require.NotEmpty(t, m.ID)
		require.Equal(t, "server-1", m.FromServerID)
		require.Equal(t, "server-2", m.ToServerID)
		require.Equal(t, 3, m.StreamCount)
		require.Equal(t, types.ReasonLoadImbalance, m.Reason)
		require.Equal(t, types.MigrationPriority(types.ReasonLoadImbalance, 1.0), m.Priority)
		require.Equal(t, 3, plan.TotalStreams())
		require.False(t, plan.PlannedAt.IsZero())
	})

	t.Run("splits large moves into batches", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 12, CurrentStreams: 12, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 12, CurrentStreams: 0, Status: types.InstanceActive},
		}

		plan := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))

		counts := make([]int, 0, len(plan.Migrations))
		for _, m := range plan.Migrations {
			counts = append(counts, m.StreamCount)
		}
		require.Equal(t, []int{5, 1}, counts)
	})

	t.Run("caps migrations per cycle", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 120, CurrentStreams: 120, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 120, CurrentStreams: 0, Status: types.InstanceActive},
		}

		plan := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))

		require.Len(t, plan.Migrations, 10)
		require.Equal(t, 50, plan.TotalStreams(), "the rest waits for the next cycle")
	})

	t.Run("drains the weakest source first", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 10, Status: types.InstanceActive},
			{ServerID: "server-3", MaxStreams: 20, CurrentStreams: 0, Status: types.InstanceActive},
		}
		scores := map[string]float64{"server-1": 0.2, "server-2": 0.8, "server-3": 1.0}

		plan := b.PlanMigrations(types.ReasonLoadImbalance, instances, scores)
		require.NotEmpty(t, plan.Migrations)

		// All of server-1's excess moves before server-2 sheds anything.
		firstFromTwo := -1
		lastFromOne := -1
		for i, m := range plan.Migrations {
			switch m.FromServerID {
			case "server-1":
				lastFromOne = i
			case "server-2":
				if firstFromTwo == -1 {
					firstFromTwo = i
				}
			}
		}
		require.NotEqual(t, -1, lastFromOne)
		require.NotEqual(t, -1, firstFromTwo)
		require.Less(t, lastFromOne, firstFromTwo)
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 9, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 9, Status: types.InstanceActive},
			{ServerID: "server-3", MaxStreams: 10, CurrentStreams: 0, Status: types.InstanceActive},
			{ServerID: "server-4", MaxStreams: 10, CurrentStreams: 0, Status: types.InstanceActive},
		}

		first := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))
		second := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))

		require.Equal(t, len(first.Migrations), len(second.Migrations))
		for i := range first.Migrations {
			require.Equal(t, first.Migrations[i].FromServerID, second.Migrations[i].FromServerID)
			require.Equal(t, first.Migrations[i].ToServerID, second.Migrations[i].ToServerID)
			require.Equal(t, first.Migrations[i].StreamCount, second.Migrations[i].StreamCount)
		}
	})

	t.Run("empty plan when already at targets", func(t *testing.T) {
		instances := []types.Instance{
			{ServerID: "server-1", MaxStreams: 10, CurrentStreams: 5, Status: types.InstanceActive},
			{ServerID: "server-2", MaxStreams: 10, CurrentStreams: 5, Status: types.InstanceActive},
		}

		plan := b.PlanMigrations(types.ReasonLoadImbalance, instances, evenScores(instances))
		require.Empty(t, plan.Migrations)
	})
}
