// Package kvutil provides helpers for creating and opening NATS JetStream
// KeyValue buckets.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// EnsureKVBucketWithRetry creates the KV bucket described by config, or opens
// it when another orchestrator replica created it first.
//
// Several replicas boot against the same NATS cluster at once, so create and
// open race: CreateKeyValue can report ErrBucketExists a moment before the
// bucket is visible to KeyValue. Failed attempts are retried with doubling
// backoff until the attempt budget is spent; a cancelled or expired context
// stops the loop immediately.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream instance used to create or look up the bucket
//   - config: KV bucket configuration (bucket name, history, TTL, replicas)
//   - maxRetries: Attempt budget; values <= 0 fall back to 3
//
// Returns:
//   - jetstream.KeyValue: Handle to the created or opened bucket
//   - error: Last failure once the attempt budget is spent
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	backoff := 10 * time.Millisecond

	var lastErr error

	for attempt := 1; ; attempt++ {
		kv, err := createOrOpen(ctx, js, config)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ensure KV bucket %s: context ended: %w", config.Bucket, ctx.Err())
		}

		if attempt >= maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ensure KV bucket %s: context ended: %w", config.Bucket, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("ensure KV bucket %s: gave up after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// createOrOpen performs a single create attempt, falling back to a plain
// lookup when the bucket already exists.
func createOrOpen(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, config)
	if err == nil {
		return kv, nil
	}

	if errors.Is(err, jetstream.ErrBucketExists) {
		opened, openErr := js.KeyValue(ctx, config.Bucket)
		if openErr == nil {
			return opened, nil
		}

		return nil, fmt.Errorf("bucket exists but open failed: %w", openErr)
	}

	return nil, err
}
