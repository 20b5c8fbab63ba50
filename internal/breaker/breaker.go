// Package breaker implements the circuit breaker and retry guard that wraps
// every storage and catalog call.
//
// Each guarded operation class ("service key") gets an independent breaker,
// so a storage outage does not block unrelated operations. Retries compose
// with the breaker: a call first checks breaker state, then spends its retry
// budget, and the breaker records exactly one outcome per call.
package breaker

import (
	"sync"
	"time"

	"github.com/arloliu/streamd/types"
)

// State is the circuit breaker state for one service key.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota

	// StateOpen short-circuits every call without attempting the
	// underlying operation.
	StateOpen

	// StateHalfOpen allows a single probe call through after the recovery
	// timeout elapses.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls one breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int `yaml:"failureThreshold"`

	// RecoveryTimeout is how long the breaker stays open before admitting
	// a half-open probe.
	RecoveryTimeout time.Duration `yaml:"recoveryTimeout"`
}

// SetDefaults fills zero fields with production defaults.
func (c *Config) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
}

// Breaker tracks consecutive failures for one service key.
//
// Legal transitions, enforced internally:
//
//	closed → open       (failure count reaches threshold)
//	open → half-open    (recovery timeout elapses, next call probes)
//	half-open → closed  (probe succeeds)
//	half-open → open    (probe fails)
type Breaker struct {
	key string
	cfg Config

	logger  types.Logger
	metrics types.BreakerMetrics

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// probing gates half-open to exactly one in-flight probe.
	probing bool

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a breaker for one service key.
//
// Parameters:
//   - key: Guarded operation class (e.g. "storage", "catalog")
//   - cfg: Thresholds; zero fields are defaulted
//   - logger: Structured logger
//   - metrics: Breaker metrics sink
//
// Returns:
//   - *Breaker: Breaker in the closed state
func New(key string, cfg Config, logger types.Logger, metrics types.BreakerMetrics) *Breaker {
	cfg.SetDefaults()

	return &Breaker{
		key:     key,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state:   StateClosed,
		now:     time.Now,
	}
}

// Allow reports whether a call may proceed.
//
// Open breakers admit a single probe once the recovery timeout has elapsed;
// everything else is short-circuited with ErrBreakerOpen and no underlying
// attempt is made.
//
// Returns:
//   - error: nil when the call may proceed, ErrBreakerOpen otherwise
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return types.ErrBreakerOpen
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true

		return nil

	case StateHalfOpen:
		if b.probing {
			// One probe at a time; concurrent callers wait it out.
			return types.ErrBreakerOpen
		}
		b.probing = true

		return nil

	default:
		return types.ErrBreakerOpen
	}
}

// RecordSuccess records one successful call.
//
// In half-open this closes the breaker; in closed it resets the consecutive
// failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.failures = 0
		b.transitionTo(StateClosed)
	case StateClosed:
		b.failures = 0
	case StateOpen:
		// A call admitted just before the trip finished late. The breaker
		// stays open until its own probe cycle clears it.
	}
}

// RecordFailure records one failed call.
//
// Reaching the failure threshold trips closed to open; a failed half-open
// probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.openedAt = b.now()
		b.transitionTo(StateOpen)
	case StateOpen:
		// Late failure from a call admitted before the trip.
	}
}

// RecordCancellation records a call that ended by caller cancellation.
//
// No outcome is attributed: the failure count and state are unchanged, but a
// half-open probe slot is released so the next caller can probe.
func (b *Breaker) RecordCancellation() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}

// transitionTo applies a state change. Caller holds b.mu.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	if !isValidTransition(b.state, next) {
		b.logger.Error("illegal breaker transition rejected",
			"service_key", b.key,
			"from", b.state.String(),
			"to", next.String())

		return
	}

	prev := b.state
	b.state = next
	b.metrics.RecordBreakerState(b.key, next.String())

	switch next {
	case StateOpen:
		b.logger.Warn("circuit breaker opened",
			"service_key", b.key,
			"from", prev.String(),
			"consecutive_failures", b.failures)
	case StateClosed:
		b.logger.Info("circuit breaker closed",
			"service_key", b.key,
			"from", prev.String())
	case StateHalfOpen:
		b.logger.Info("circuit breaker half-open, probing",
			"service_key", b.key,
			"open_duration", b.now().Sub(b.openedAt).String())
	}
}

// isValidTransition enforces the legal breaker state machine.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateClosed:   {StateOpen},
		StateOpen:     {StateHalfOpen},
		StateHalfOpen: {StateClosed, StateOpen},
	}

	for _, valid := range validTransitions[from] {
		if to == valid {
			return true
		}
	}

	return false
}
