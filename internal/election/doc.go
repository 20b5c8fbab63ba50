// Package election provides leader election implementations for streamd.
//
// Exactly one orchestrator replica may run the periodic loops (heartbeat
// sweeps, automatic rebalancing, consistency checks) at any given time;
// election decides which one. Followers keep serving instance-facing calls
// and take the loops over when the leader's lease lapses.
//
// # Implementations
//
// NATSElection rides on a NATS KV bucket: Create claims the leader key
// atomically, Update with the held revision renews it, and the bucket TTL
// expires the key of a crashed leader so a follower can claim it. The
// revision check is what rules out split brain; two replicas can never both
// hold the same revision.
//
// StaticLeader short-circuits the protocol for single-replica deployments:
// it always reports leadership and issues no KV traffic.
//
// # Usage
//
// The orchestrator drives the protocol, but standalone use looks like:
//
//	agent := election.NewNATSElection(kv, "leader")
//
//	isLeader, err := agent.RequestLeadership(ctx, replicaID, 30)
//	if err != nil {
//	    return err
//	}
//
//	for isLeader {
//	    select {
//	    case <-ctx.Done():
//	        return agent.ReleaseLeadership(context.WithoutCancel(ctx))
//	    case <-time.After(10 * time.Second):
//	        if err := agent.RenewLeadership(ctx); err != nil {
//	            isLeader = false // demoted; fall back to contending
//	        }
//	    }
//	}
//
// Renew at TTL/3. A 30s lease renewed every 10s survives two missed
// renewals before the key expires.
//
// # Failover
//
// A follower becomes leader when the key disappears: immediately after a
// graceful ReleaseLeadership, or one TTL after a crash or partition. Until
// then RequestLeadership keeps returning false without error, which is the
// signal to stay a follower, not a failure.
//
// # Errors
//
//   - ErrNotLeader: the operation needs a held lease and there is none
//   - ErrLeadershipLost: a renewal lost the revision race to another replica
//   - ErrInvalidDuration: lease duration must be positive
package election
