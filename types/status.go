package types

import "time"

// InstanceSummary aggregates registry counts for status reporting.
type InstanceSummary struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	TotalCapacity int `json:"total_capacity"`
	CurrentLoad   int `json:"current_load"`
}

// StreamSummary aggregates ledger and catalog counts.
type StreamSummary struct {
	Assigned  int `json:"assigned"`
	Available int `json:"available"`
	Total     int `json:"total"`
}

// ClusterStatus is a best-effort snapshot of the whole system.
//
// A failed sub-collection never fails the snapshot; the affected section is
// named in Degraded and its fields are left at their zero values.
type ClusterStatus struct {
	Instances InstanceSummary `json:"instances"`
	Streams   StreamSummary   `json:"streams"`

	// LoadPercentage is current load over total capacity, in [0,100].
	LoadPercentage float64 `json:"load_percentage"`

	Health SystemHealth `json:"health"`

	GeneratedAt time.Time `json:"generated_at"`

	// Degraded names the sections that could not be collected.
	Degraded []string `json:"degraded,omitempty"`
}
