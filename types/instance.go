package types

import (
	"fmt"
	"time"
)

// InstanceStatus is the registry-visible liveness status of an instance.
type InstanceStatus string

const (
	// InstanceActive means the instance is registered and heartbeating.
	InstanceActive InstanceStatus = "active"

	// InstanceInactive means the instance exceeded its heartbeat timeout.
	// Inactive rows are retained for audit history, never deleted.
	InstanceInactive InstanceStatus = "inactive"
)

// Instance is one registered relay worker.
//
// CurrentStreams is the orchestrator's belief of live load. It is maintained
// by the assignment engine and may diverge transiently from the ledger; the
// consistency checker exists to close that gap. It is never trusted as
// ground truth.
type Instance struct {
	// ServerID uniquely identifies the instance. It is chosen by the
	// worker and stable across restarts.
	ServerID string `json:"server_id"`

	// Host and Port form the instance's reachable address.
	Host string `json:"host"`
	Port int    `json:"port"`

	// MaxStreams is the declared capacity ceiling. Immutable after
	// registration unless the instance re-registers.
	MaxStreams int `json:"max_streams"`

	// CurrentStreams counts assignments the orchestrator believes are live.
	CurrentStreams int `json:"current_streams"`

	Status        InstanceStatus `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	RegisteredAt  time.Time      `json:"registered_at"`

	// Metrics holds the most recent resource telemetry reported via
	// heartbeat. Zero values mean "no report yet" and score as full
	// headroom.
	Metrics InstanceMetrics `json:"metrics"`
}

// InstanceMetrics is resource telemetry reported by an instance on each
// heartbeat. All fields are optional; a zero value counts as full headroom
// when computing performance scores.
type InstanceMetrics struct {
	// CPUPercent is CPU utilization in [0,100].
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryPercent is memory utilization in [0,100].
	MemoryPercent float64 `json:"memory_percent"`

	// LoadAvg is the 1-minute load average normalized per core.
	LoadAvg float64 `json:"load_avg"`

	// AvgResponseMillis is the instance's average response latency.
	AvgResponseMillis float64 `json:"avg_response_ms"`
}

// Addr returns the host:port form of the instance address.
func (i *Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// LoadFactor returns CurrentStreams divided by MaxStreams.
//
// Returns:
//   - float64: Load in [0,1] under normal operation; 0 when MaxStreams is 0
func (i *Instance) LoadFactor() float64 {
	if i.MaxStreams <= 0 {
		return 0
	}

	return float64(i.CurrentStreams) / float64(i.MaxStreams)
}

// SpareCapacity returns how many more streams the instance can accept.
func (i *Instance) SpareCapacity() int {
	spare := i.MaxStreams - i.CurrentStreams
	if spare < 0 {
		return 0
	}

	return spare
}
