package balance

import "github.com/arloliu/streamd/types"

// OptimalDistribution computes per-instance target stream counts.
//
// Each instance's share of the total is proportional to its weighted
// capacity, maxStreams x score, clipped to its own ceiling. Instances at
// or above MaxLoadFactor get a reduced ceiling just below it, so they are
// drained rather than filled. When the total weighted capacity is zero the
// split is equal, with the remainder going to the first instances in slice
// order.
//
// The result never exceeds an instance's ceiling and never distributes
// more than total in aggregate.
//
// Parameters:
//   - total: Total outstanding streams to distribute
//   - instances: Active instances, in a deterministic order
//   - scores: Performance score per server ID
//
// Returns:
//   - map[string]int: Target stream count per server ID
func (b *Balancer) OptimalDistribution(total int, instances []types.Instance, scores map[string]float64) map[string]int {
	targets := make(map[string]int, len(instances))
	for i := range instances {
		targets[instances[i].ServerID] = 0
	}
	if total <= 0 || len(instances) == 0 {
		return targets
	}

	ceilings := make([]int, len(instances))
	weights := make([]float64, len(instances))
	sumWeight := 0.0
	for i := range instances {
		inst := &instances[i]

		ceilings[i] = inst.MaxStreams
		if inst.LoadFactor() >= b.cfg.MaxLoadFactor {
			ceilings[i] = int(b.cfg.MaxLoadFactor * float64(inst.MaxStreams))
		}

		weights[i] = float64(inst.MaxStreams) * scores[inst.ServerID]
		sumWeight += weights[i]
	}

	assigned := 0
	for i := range instances {
		var share int
		if sumWeight > 0 {
			share = int(float64(total) * weights[i] / sumWeight)
		} else {
			share = total / len(instances)
		}
		if share > ceilings[i] {
			share = ceilings[i]
		}

		targets[instances[i].ServerID] = share
		assigned += share
	}

	// Hand out the rounding remainder one stream at a time, first instance
	// first, skipping instances already at their ceiling.
	for assigned < total {
		progressed := false
		for i := range instances {
			if assigned >= total {
				break
			}

			id := instances[i].ServerID
			if targets[id] < ceilings[i] {
				targets[id]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	return targets
}

// DetectImbalance reports whether the fleet needs rebalancing.
//
// The conditions are checked in priority order and any single one
// triggers:
//
//  1. "emergency": any load factor at or above EmergencyLoadFactor
//  2. "spread": max(load factor) - min(load factor) above
//     ImbalanceThreshold
//  3. "absolute": any stream count deviating from the fleet mean by more
//     than MaxStreamDifference
//
// Fleets smaller than MinInstances never trigger.
//
// Parameters:
//   - instances: Active instances
//
// Returns:
//   - bool: true when rebalancing is warranted
//   - string: Triggering condition name, empty when balanced
func (b *Balancer) DetectImbalance(instances []types.Instance) (bool, string) {
	if len(instances) < b.cfg.MinInstances {
		return false, ""
	}

	minLoad, maxLoad := instances[0].LoadFactor(), instances[0].LoadFactor()
	totalStreams := 0
	for i := range instances {
		lf := instances[i].LoadFactor()
		if lf >= b.cfg.EmergencyLoadFactor {
			return true, "emergency"
		}

		if lf < minLoad {
			minLoad = lf
		}
		if lf > maxLoad {
			maxLoad = lf
		}
		totalStreams += instances[i].CurrentStreams
	}

	if maxLoad-minLoad > b.cfg.ImbalanceThreshold {
		return true, "spread"
	}

	mean := float64(totalStreams) / float64(len(instances))
	for i := range instances {
		diff := float64(instances[i].CurrentStreams) - mean
		if diff < 0 {
			diff = -diff
		}
		if diff > float64(b.cfg.MaxStreamDifference) {
			return true, "absolute"
		}
	}

	return false, ""
}
