package types

import "context"

// ElectionAgent handles leader election between orchestrator replicas.
//
// Leader election ensures exactly one replica runs the periodic loops: the
// heartbeat monitor sweep, automatic rebalancing, and consistency checks.
// Follower replicas keep serving reads and instance-facing calls; they take
// over the loops when the leader's lease lapses.
//
// The built-in implementation rides on NATS KV; deployments that already
// run a coordination service (Consul, etcd, Zookeeper) can supply their own
// agent through the WithElectionAgent option, and single-replica setups use
// the static agent that always reports leadership.
type ElectionAgent interface {
	// RequestLeadership contends for the leadership lease.
	//
	// The lease lasts leaseDuration seconds and must be renewed before it
	// expires. A replica that already holds the lease extends it. Losing
	// the contention is reported as (false, nil), not as an error: the
	// caller stays a follower and retries on its next cycle.
	RequestLeadership(ctx context.Context, replicaID string, leaseDuration int64) (bool, error)

	// RenewLeadership extends the held lease.
	//
	// Called periodically by the leader, well inside the lease duration.
	// An error means the lease is gone and another replica may already
	// lead; the caller must demote itself immediately.
	RenewLeadership(ctx context.Context) error

	// ReleaseLeadership gives the lease up voluntarily.
	//
	// Called during graceful shutdown so a follower can take over at once
	// instead of waiting out the lease expiry.
	ReleaseLeadership(ctx context.Context) error

	// IsLeader reports whether this replica currently holds the lease,
	// verified against the coordination backend rather than local state.
	IsLeader(ctx context.Context) (bool, error)

	// ReplicaID returns the leader's replica ID as known locally, or the
	// empty string when this replica is not the leader.
	ReplicaID() string
}
