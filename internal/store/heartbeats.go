package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// PutHeartbeat writes one heartbeat timestamp.
//
// The heartbeat bucket carries a server-side TTL so stale rows expire on
// their own; the instance row keeps the authoritative last-heartbeat time.
func (s *Store) PutHeartbeat(ctx context.Context, serverID string, at time.Time) error {
	return s.do(ctx, "put", func(ctx context.Context) error {
		value := []byte(at.UTC().Format(time.RFC3339Nano))
		if _, err := s.heartbeats.Put(ctx, serverID, value); err != nil {
			return fmt.Errorf("failed to write heartbeat for %s: %w", serverID, err)
		}

		return nil
	})
}

// GetHeartbeat reads one heartbeat timestamp.
//
// Returns:
//   - time.Time: Last heartbeat in UTC
//   - error: ErrNotFound when no heartbeat row exists (never sent or
//     expired)
func (s *Store) GetHeartbeat(ctx context.Context, serverID string) (time.Time, error) {
	var at time.Time

	err := s.do(ctx, "get", func(ctx context.Context) error {
		entry, err := s.getEntry(ctx, s.heartbeats, serverID)
		if err != nil {
			return err
		}

		at, err = time.Parse(time.RFC3339Nano, string(entry.Value()))
		if err != nil {
			return fmt.Errorf("malformed heartbeat for %s: %w", serverID, err)
		}

		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	return at, nil
}

// ListHeartbeats reads every live heartbeat row.
func (s *Store) ListHeartbeats(ctx context.Context) (map[string]time.Time, error) {
	beats := make(map[string]time.Time)

	err := s.do(ctx, "list", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.heartbeats)
		if err != nil {
			return err
		}

		for _, key := range keys {
			entry, err := s.getEntry(ctx, s.heartbeats, key)
			if err != nil {
				// TTL expiry between list and read.
				continue
			}

			at, err := time.Parse(time.RFC3339Nano, string(entry.Value()))
			if err != nil {
				s.logger.Warn("skipping malformed heartbeat row", "server_id", key, "error", err)

				continue
			}

			beats[key] = at
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return beats, nil
}

// WatchHeartbeats opens a watcher over the heartbeat bucket.
//
// The watcher is a long-lived subscription: it bypasses the in-flight pool
// and the breaker, and the caller owns Stop.
func (s *Store) WatchHeartbeats(ctx context.Context) (jetstream.KeyWatcher, error) {
	watcher, err := s.heartbeats.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch heartbeats: %w", err)
	}

	return watcher, nil
}
