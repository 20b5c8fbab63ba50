package natsutil

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// Used by the circuit breaker to separate network failures from
// application errors.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	// Check for known connectivity error types
	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsTransient reports whether an error should count as a transient storage
// failure for breaker and retry purposes.
//
// Transient errors are connectivity problems, pool exhaustion, revision
// conflicts that survived their CAS budget, and deadline expiry. Context
// cancellation is caller intent, never a downstream failure, so it is
// excluded.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true when the failure may clear on retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	return IsConnectivityError(err) ||
		types.IsRetriable(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsWrongRevision reports whether a KV update failed because another writer
// changed the key first. Callers re-read and retry these.
func IsWrongRevision(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}

	return strings.Contains(err.Error(), "wrong last sequence")
}

// IsKeyExists reports whether a KV create failed because the key is already
// present. Used for atomic claim operations.
func IsKeyExists(err error) bool {
	return err != nil && errors.Is(err, jetstream.ErrKeyExists)
}

// IsKeyNotFound reports whether a KV get referenced a missing key.
func IsKeyNotFound(err error) bool {
	return err != nil && errors.Is(err, jetstream.ErrKeyNotFound)
}
