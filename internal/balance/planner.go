package balance

import (
	"sort"

	"github.com/google/uuid"

	"github.com/arloliu/streamd/internal/hash"
	"github.com/arloliu/streamd/types"
)

// tieSeed feeds the hash tie-break so plan output is identical on every
// replica.
const tieSeed uint64 = 0

// endpoint is one instance's position relative to its target during
// planning.
type endpoint struct {
	serverID string
	score    float64

	// delta is excess for sources, room for receivers. Both positive.
	delta int
}

// PlanMigrations builds a migration plan that moves every instance toward
// its optimal target.
//
// Sources are instances above target, drained worst score first so load
// leaves the weakest nodes. Receivers are instances below target, filled
// best score first. Equal scores are ordered by seeded hash so plans are
// deterministic across replicas. Streams move in batches of at most
// MigrationBatchSize per migration, and a plan never contains more than
// MaxMigrationsPerCycle migrations; whatever remains is picked up by the
// next cycle.
//
// Parameters:
//   - reason: Trigger recorded on the plan and each migration
//   - instances: Active instances, in a deterministic order
//   - scores: Performance score per server ID
//
// Returns:
//   - *types.MigrationPlan: Plan sorted by descending priority, possibly
//     empty
func (b *Balancer) PlanMigrations(reason types.MigrationReason, instances []types.Instance, scores map[string]float64) *types.MigrationPlan {
	plan := &types.MigrationPlan{
		Reason:    reason,
		PlannedAt: b.now(),
	}

	total := 0
	for i := range instances {
		total += instances[i].CurrentStreams
	}
	targets := b.OptimalDistribution(total, instances, scores)

	var sources, receivers []endpoint
	for i := range instances {
		inst := &instances[i]

		diff := inst.CurrentStreams - targets[inst.ServerID]
		switch {
		case diff > 0:
			sources = append(sources, endpoint{inst.ServerID, scores[inst.ServerID], diff})
		case diff < 0:
			receivers = append(receivers, endpoint{inst.ServerID, scores[inst.ServerID], -diff})
		}
	}
	if len(sources) == 0 || len(receivers) == 0 {
		return plan
	}

	// Drain the weakest sources first.
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].score != sources[j].score {
			return sources[i].score < sources[j].score
		}

		return hash.TieBreak(sources[i].serverID, sources[j].serverID, tieSeed)
	})

	// Fill the strongest receivers first.
	sort.SliceStable(receivers, func(i, j int) bool {
		if receivers[i].score != receivers[j].score {
			return receivers[i].score > receivers[j].score
		}

		return hash.TieBreak(receivers[i].serverID, receivers[j].serverID, tieSeed)
	})

	ri := 0
	for si := range sources {
		for sources[si].delta > 0 {
			if len(plan.Migrations) >= b.cfg.MaxMigrationsPerCycle {
				return sortByPriority(plan)
			}

			for ri < len(receivers) && receivers[ri].delta == 0 {
				ri++
			}
			if ri == len(receivers) {
				return sortByPriority(plan)
			}

			move := min(sources[si].delta, receivers[ri].delta, b.cfg.MigrationBatchSize)
			plan.Migrations = append(plan.Migrations, types.Migration{
				ID:           uuid.NewString(),
				FromServerID: sources[si].serverID,
				ToServerID:   receivers[ri].serverID,
				StreamCount:  move,
				Reason:       reason,
				Priority:     types.MigrationPriority(reason, receivers[ri].score),
			})

			sources[si].delta -= move
			receivers[ri].delta -= move
		}
	}

	return sortByPriority(plan)
}

func sortByPriority(plan *types.MigrationPlan) *types.MigrationPlan {
	sort.SliceStable(plan.Migrations, func(i, j int) bool {
		return plan.Migrations[i].Priority > plan.Migrations[j].Priority
	})

	return plan
}
