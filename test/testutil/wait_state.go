package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/streamd"
)

// StateWaiter defines the subset of Orchestrator methods needed for waiting.
// This allows the helpers to work with both real replicas and test doubles.
type StateWaiter interface {
	// WaitState blocks until the replica reaches the expected state or the
	// context ends.
	WaitState(ctx context.Context, expected streamd.State) error
}

// WaitAllReplicasState waits for all replicas to reach the expected state.
//
// The waits run in parallel with early failure: the first replica to miss
// its deadline fails the whole call and releases the remaining waiters. If
// the context is cancelled, the wait is abandoned with the context error.
//
// Parameters:
//   - ctx: Context for cancellation (recommended for test cleanup)
//   - replicas: Replicas to wait on
//   - expected: Target state for all replicas
//   - timeout: Maximum time to wait for each individual replica
//
// Returns:
//   - error: nil if all replicas reached the state, first error otherwise
//
// Example:
//
//	replicas := []testutil.StateWaiter{orch1, orch2, orch3}
//	err := testutil.WaitAllReplicasState(ctx, replicas, streamd.StateRunning, 15*time.Second)
//	require.NoError(t, err, "all replicas should reach Running")
func WaitAllReplicasState(
	ctx context.Context,
	replicas []StateWaiter,
	expected streamd.State,
	timeout time.Duration,
) error {
	if len(replicas) == 0 {
		return nil
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	wg.Add(len(replicas))
	for i, r := range replicas {
		go func(index int, w StateWaiter) {
			defer wg.Done()

			waitCtx, waitCancel := context.WithTimeout(groupCtx, timeout)
			defer waitCancel()

			if err := w.WaitState(waitCtx, expected); err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("replica[%d] failed to reach state %s: %w", index, expected, err)
					cancel() // Release other waiters on first failure
				})
			}
		}(i, r)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	return ctx.Err()
}

// WaitAnyReplicaState waits for any replica to reach the expected state.
//
// The function returns as soon as the first replica reaches the state. If
// all replicas miss the timeout, a combined error is returned.
//
// Parameters:
//   - replicas: Replicas to wait on
//   - expected: Target state to wait for
//   - timeout: Maximum time to wait for each individual replica
//
// Returns:
//   - int: Index of the first replica that reached the state (-1 if none)
//   - error: nil if any replica reached the state, combined error otherwise
func WaitAnyReplicaState(
	replicas []StateWaiter,
	expected streamd.State,
	timeout time.Duration,
) (int, error) {
	if len(replicas) == 0 {
		return -1, errors.New("no replicas provided")
	}

	type result struct {
		index int
		err   error
	}

	resultCh := make(chan result, len(replicas))

	for i, r := range replicas {
		go func(index int, w StateWaiter) {
			waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resultCh <- result{index: index, err: w.WaitState(waitCtx, expected)}
		}(i, r)
	}

	errs := make([]error, 0, 1)
	for range replicas {
		r := <-resultCh
		if r.err == nil {
			// First success, remaining waiters drain on their own timeouts.
			return r.index, nil
		}
		errs = append(errs, fmt.Errorf("replica[%d]: %w", r.index, r.err))
	}

	return -1, fmt.Errorf("all replicas failed to reach state %s: %w", expected, errors.Join(errs...))
}

// WaitForLeader polls until exactly one non-shutdown replica reports
// leadership and returns it. The exactly-one requirement makes the helper
// safe during failover windows where two replicas could transiently
// disagree.
//
// Parameters:
//   - replicas: Replicas to poll, shutdown ones are skipped
//   - timeout: Maximum time to wait
//
// Returns:
//   - *streamd.Orchestrator: The leader
//   - error: Timeout with the last observed leader count
func WaitForLeader(replicas []*streamd.Orchestrator, timeout time.Duration) (*streamd.Orchestrator, error) {
	deadline := time.Now().Add(timeout)
	for {
		var leader *streamd.Orchestrator
		count := 0
		for _, orch := range replicas {
			if orch.State() == streamd.StateShutdown {
				continue
			}
			if orch.IsLeader() {
				leader = orch
				count++
			}
		}
		if count == 1 {
			return leader, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no single leader within %v (saw %d leaders)", timeout, count)
		}

		time.Sleep(100 * time.Millisecond)
	}
}
