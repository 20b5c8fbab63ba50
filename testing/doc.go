// Package testing provides test helpers for the streamd library.
//
// The helpers boot real NATS infrastructure in-process, so tests exercise
// actual JetStream semantics (revisions, TTLs, watchers) instead of mocks:
//
//   - StartEmbeddedNATS: single JetStream-enabled server per test
//   - StartEmbeddedNATSCluster: 3-node cluster for failover scenarios
//   - CreateJetStreamKV: memory-backed KV bucket with test defaults
//   - NewTestStore: fully wired storage layer over an embedded server
//   - NewTestLogger: logger that writes through testing.T
//
// Import under a distinct name to avoid clashing with the standard library:
//
//	import (
//	    "testing"
//
//	    streamdtest "github.com/arloliu/streamd/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := streamdtest.StartEmbeddedNATS(t)
//	    st := streamdtest.NewTestStore(t, nc)
//	    // st is torn down with the server when the test ends
//	}
package testing
