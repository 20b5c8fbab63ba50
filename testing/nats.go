package testing

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StartEmbeddedNATS starts an in-process NATS server with JetStream enabled.
//
// The server listens on a random port, keeps JetStream state in a per-test
// temp directory, and is shut down through t.Cleanup together with the
// returned connection. Running in-process keeps tests free of external
// dependencies (no Docker, no fixed ports) and safe for t.Parallel.
//
// Parameters:
//   - t: Testing context for fatals and cleanup
//
// Returns:
//   - *server.Server: The embedded NATS server
//   - *nats.Conn: Client connection to it, closed when the test ends
//
// Example:
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := streamdtest.StartEmbeddedNATS(t)
//	    // server and connection are torn down automatically
//	}
func StartEmbeddedNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	ns := runServer(t, &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random free port
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})

	nc := connect(t, ns.ClientURL(), nats.MaxReconnects(3))

	return ns, nc
}

// StartEmbeddedNATSCluster starts a 3-node JetStream cluster in-process.
//
// Node 0 acts as the seed: the other nodes route to it and discover each
// other through gossip. The function blocks until the route mesh is complete,
// so callers always observe a fully formed cluster. Useful for exercising
// leader failover between orchestrator replicas and JetStream quorum loss.
//
// Parameters:
//   - t: Testing context for fatals and cleanup
//
// Returns:
//   - []*server.Server: The three cluster nodes, in start order
//   - *nats.Conn: Client connection carrying every node URL in its server list
func StartEmbeddedNATSCluster(t *testing.T) ([]*server.Server, *nats.Conn) {
	t.Helper()

	const size = 3

	servers := make([]*server.Server, 0, size)

	var seed *url.URL

	for i := range size {
		opts := &server.Options{
			ServerName: fmt.Sprintf("streamd-test-%d", i),
			Host:       "127.0.0.1",
			Port:       -1,
			JetStream:  true,
			StoreDir:   t.TempDir(),
			NoLog:      true,
			Cluster: server.ClusterOpts{
				Name: "streamd-test",
				Host: "127.0.0.1",
				Port: -1,
			},
		}
		if seed != nil {
			opts.Routes = []*url.URL{seed}
		}

		ns := runServer(t, opts)
		servers = append(servers, ns)

		if seed == nil {
			addr := ns.ClusterAddr()
			if addr == nil {
				t.Fatal("seed node exposes no cluster address")
			}

			seed, _ = url.Parse(fmt.Sprintf("nats://127.0.0.1:%d", addr.Port))
		}
	}

	awaitClusterMesh(t, servers)

	urls := make([]string, len(servers))
	for i, s := range servers {
		urls[i] = s.ClientURL()
	}

	nc := connect(t, strings.Join(urls, ","), nats.MaxReconnects(-1))

	return servers, nc
}

// runServer builds a server from opts, starts it, and fails the test unless
// it accepts connections within the startup timeout. Shutdown is registered
// with t.Cleanup, so every error path after this call tears the server down.
func runServer(t *testing.T, opts *server.Options) *server.Server {
	t.Helper()

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}

	go ns.Start()

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("NATS server %s did not become ready", opts.ServerName)
	}

	return ns
}

// connect dials servers and registers the connection for cleanup. Cleanups
// run last-in-first-out, so the connection closes before its server stops.
func connect(t *testing.T, servers string, extra ...nats.Option) *nats.Conn {
	t.Helper()

	opts := append([]nats.Option{
		nats.Timeout(2 * time.Second),
		nats.RetryOnFailedConnect(true),
	}, extra...)

	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		t.Fatalf("connect to NATS at %s: %v", servers, err)
	}

	t.Cleanup(nc.Close)

	return nc
}

// awaitClusterMesh blocks until every node routes to every other node.
func awaitClusterMesh(t *testing.T, servers []*server.Server) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			t.Fatal("cluster mesh did not form in time")
		case <-tick.C:
			if meshed(servers) {
				return
			}
		}
	}
}

func meshed(servers []*server.Server) bool {
	for _, s := range servers {
		if s.NumRoutes() < len(servers)-1 {
			return false
		}
	}

	return true
}

// CreateJetStreamKV creates a memory-backed KV bucket on the given connection.
//
// The bucket uses memory storage and a short TTL so leftover state cannot
// outlive the embedded server it was created on.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection (from StartEmbeddedNATS)
//   - bucketName: Name of the bucket to create
//
// Returns:
//   - jetstream.KeyValue: Handle to the created bucket
//
// Example:
//
//	func TestClaimer(t *testing.T) {
//	    _, nc := streamdtest.StartEmbeddedNATS(t)
//	    kv := streamdtest.CreateJetStreamKV(t, nc, "replica-ids")
//	    // exercise kv
//	}
func CreateJetStreamKV(t *testing.T, nc *nats.Conn, bucketName string) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("create JetStream context: %v", err)
	}

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("streamd test bucket %s", bucketName),
		TTL:         time.Minute,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	})
	if err != nil {
		t.Fatalf("create KV bucket %s: %v", bucketName, err)
	}

	return kv
}
