package balance

import "github.com/arloliu/streamd/types"

// Term weights of the performance score. They sum to 1.0 so an idle,
// failure-free instance scores a perfect 1.0.
const (
	cpuWeight      = 0.30
	memoryWeight   = 0.30
	loadAvgWeight  = 0.20
	failureWeight  = 0.10
	responseWeight = 0.10
)

// Full-scale points for the unbounded telemetry terms. Values at or beyond
// these count as fully consumed.
const (
	// loadAvgFullScale treats a 1-minute load average of 4 as saturated.
	loadAvgFullScale = 4.0

	// responseFullScaleMillis treats a 1s average response as saturated.
	responseFullScaleMillis = 1000.0

	// failureFullScale treats five recent failure episodes as saturated.
	failureFullScale = 5.0
)

// ScoreFloor and ScoreCeiling bound every performance score. The floor
// keeps even a struggling instance eligible for a sliver of work instead
// of dividing by a zero weight.
const (
	ScoreFloor   = 0.10
	ScoreCeiling = 1.00
)

// Score computes an instance's performance score.
//
// The score is a weighted sum of headroom terms: CPU 30%, memory 30%,
// 1-minute load average 20%, recent failures 10%, and average response
// time 10%. Lower resource usage and fewer failures yield a higher score.
// Instances that have never reported telemetry score the full 1.0, so
// fresh instances look attractive to the planner.
//
// Parameters:
//   - inst: Instance whose latest telemetry is read from inst.Metrics
//   - failures: Recent failure weight for the instance (0 when it has no
//     open failure episode)
//
// Returns:
//   - float64: Score in [ScoreFloor, ScoreCeiling]
func Score(inst *types.Instance, failures int) float64 {
	m := inst.Metrics

	score := cpuWeight*headroom(m.CPUPercent/100) +
		memoryWeight*headroom(m.MemoryPercent/100) +
		loadAvgWeight*headroom(m.LoadAvg/loadAvgFullScale) +
		failureWeight*headroom(float64(failures)/failureFullScale) +
		responseWeight*headroom(m.AvgResponseMillis/responseFullScaleMillis)

	return clamp(score, ScoreFloor, ScoreCeiling)
}

// headroom maps a usage fraction to its unused remainder, clamped to
// [0, 1] so corrupt telemetry cannot push a term negative.
func headroom(usage float64) float64 {
	return 1 - clamp(usage, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
