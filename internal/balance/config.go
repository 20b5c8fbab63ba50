package balance

import "time"

// Config tunes the load balancer.
type Config struct {
	// CheckInterval is how often the periodic loop evaluates the fleet.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// EmergencyLoadFactor is the load factor at which a single instance
	// triggers rebalancing regardless of the spread.
	EmergencyLoadFactor float64 `yaml:"emergencyLoadFactor"`

	// ImbalanceThreshold is the max(load factor) - min(load factor) spread
	// that triggers rebalancing.
	ImbalanceThreshold float64 `yaml:"imbalanceThreshold"`

	// MaxStreamDifference triggers rebalancing when any instance's stream
	// count deviates from the fleet mean by more than this many streams.
	MaxStreamDifference int `yaml:"maxStreamDifference"`

	// MinInstances is the minimum number of active instances required
	// before any rebalancing happens.
	MinInstances int `yaml:"minInstances"`

	// MinRebalanceInterval is the cooldown between executed rebalances,
	// enforced across replicas through the journal.
	MinRebalanceInterval time.Duration `yaml:"minRebalanceInterval"`

	// MigrationBatchSize caps how many streams one migration moves.
	MigrationBatchSize int `yaml:"migrationBatchSize"`

	// MaxMigrationsPerCycle caps how many migrations one plan contains.
	MaxMigrationsPerCycle int `yaml:"maxMigrationsPerCycle"`

	// MaxLoadFactor is the distribution ceiling: instances at or above it
	// are only ever drained down below it, never filled further.
	MaxLoadFactor float64 `yaml:"maxLoadFactor"`
}

// SetDefaults fills in default values for zero fields.
func (c *Config) SetDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.EmergencyLoadFactor <= 0 {
		c.EmergencyLoadFactor = 0.95
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 0.20
	}
	if c.MaxStreamDifference <= 0 {
		c.MaxStreamDifference = 2
	}
	if c.MinInstances <= 0 {
		c.MinInstances = 2
	}
	if c.MinRebalanceInterval <= 0 {
		c.MinRebalanceInterval = 5 * time.Minute
	}
	if c.MigrationBatchSize <= 0 {
		c.MigrationBatchSize = 5
	}
	if c.MaxMigrationsPerCycle <= 0 {
		c.MaxMigrationsPerCycle = 10
	}
	if c.MaxLoadFactor <= 0 {
		c.MaxLoadFactor = 0.90
	}
}
