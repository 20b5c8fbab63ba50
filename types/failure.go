package types

import "time"

// FailureRecord tracks one instance's failure episode.
//
// A record is created when the heartbeat monitor classifies an instance as
// failed, retried with exponential backoff up to the configured attempt
// ceiling, and deleted once recovery succeeds. Exhausting the retry budget
// hands the episode to emergency recovery, which force-releases the
// instance's assignments unconditionally.
type FailureRecord struct {
	// EpisodeID uniquely identifies this failure episode for tracing
	// through logs and hooks.
	EpisodeID string `json:"episode_id"`

	ServerID    string    `json:"server_id"`
	FailureTime time.Time `json:"failure_time"`
	Reason      string    `json:"reason"`

	// StreamsAffected is the instance's active assignment count observed
	// at the moment of failure.
	StreamsAffected int `json:"streams_affected"`

	RecoveryAttempts    int       `json:"recovery_attempts"`
	LastRecoveryAttempt time.Time `json:"last_recovery_attempt,omitempty"`

	// Released is set once the instance's active assignments have been
	// returned to the pool, either by the backoff-gated failure handling
	// or by emergency escalation. Later sweeps skip release work for the
	// episode.
	Released bool `json:"released"`

	// HeartbeatSeen is set when a fresh heartbeat arrived after the
	// failure. Recovery is finalized only by the monitoring loop, never by
	// the heartbeat alone, so one stray packet cannot flap the instance
	// back to active.
	HeartbeatSeen bool `json:"heartbeat_seen"`
}
