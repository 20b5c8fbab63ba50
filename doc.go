// Package streamd provides a Go library for NATS-based stream assignment
// orchestration with stable replica IDs and leader-based coordination.
//
// Streamd assigns media streams to a fleet of relay server instances without
// requiring external coordination services. It provides registration and
// heartbeat tracking, an assignment ledger with at-most-one active owner per
// stream, automatic failure recovery, score-based load balancing and
// asynchronous consistency repair, all persisted in NATS JetStream KV.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/arloliu/streamd"
//
//	cfg := streamd.DefaultConfig()
//	src := source.NewStatic(streams)
//
//	orch, err := streamd.NewOrchestrator(&cfg, natsConn, src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := orch.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer orch.Stop(context.Background())
//
//	// Serve instance traffic from any replica.
//	granted, err := orch.RequestStreams(ctx, "server-1", 5)
//
// # Key Features
//
//   - Stable Replica IDs: Orchestrator replicas claim stable identities for
//     consistent election and journaling across restarts
//   - Leader-Based Recovery: One replica runs the heartbeat monitor, load
//     balancer and consistency checker; followers still serve requests
//   - At-Most-One Ownership: Assignment rows are claimed with atomic KV
//     creates, so concurrent grants cannot double-assign a stream
//   - Guarded Storage: Every KV operation runs through a circuit breaker
//     with a bounded retry budget and a bounded in-flight pool
//   - Self-Healing: Failed instances are drained, orphaned and duplicate
//     assignments are repaired, and counters are resynchronized from the
//     ledger
//
// # Architecture
//
// Replicas progress through a state machine:
//
//	INIT → CLAIMING_ID → ELECTION → RUNNING
//
// The leader monitors heartbeats, releases assignments of failed instances,
// migrates streams to even out load, and audits the ledger. All request
// operations (Register, Heartbeat, RequestStreams, ReleaseStreams, status
// and checks) work from any replica because state lives in JetStream KV.
//
// # Advanced Usage
//
// Hooks and custom wiring:
//
//	hooks := &streamd.Hooks{
//	    OnInstanceFailed: func(ctx context.Context, rec streamd.FailureRecord) error {
//	        page(rec.ServerID)
//	        return nil
//	    },
//	    OnRebalance: func(ctx context.Context, plan streamd.MigrationPlan, moved int) error {
//	        log.Printf("rebalanced %d streams", moved)
//	        return nil
//	    },
//	}
//
//	orch, err := streamd.NewOrchestrator(&cfg, natsConn, src,
//	    streamd.WithHooks(hooks),
//	    streamd.WithLogger(logger),
//	    streamd.WithMetrics(collector),
//	)
//
// See the examples/ directory for complete working examples.
package streamd
