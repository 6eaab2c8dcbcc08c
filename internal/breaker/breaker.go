// Package breaker implements a per-endpoint circuit breaker. The breaker
// never performs I/O itself: callers check CanExecute before issuing work and
// report the outcome with RecordSuccess or RecordFailure.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// Closed means the endpoint is trusted and calls flow normally.
	Closed State = iota
	// Open means the endpoint is isolated and calls are rejected.
	Open
	// HalfOpen means a bounded number of trial calls are permitted.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config controls state transitions.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before permitting
	// trial calls.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds trial calls while half-open; if none succeeds
	// the breaker reverts to open.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
}

// Snapshot is a read-only view of breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
}

// Breaker is a failure-isolation state machine. Safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time // overridable in tests

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenCalls       int
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: Closed,
	}
}

// CanExecute reports whether work may be issued against the endpoint. The
// only mutation it performs is the lazy open -> half-open transition once the
// recovery timeout has elapsed, and trial-call accounting while half-open.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if b.now().Sub(b.lastFailure) > b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.halfOpenCalls = 1 // this call is the first trial
			return true
		}
		return false

	case HalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			// Trial budget exhausted with no recorded success; re-open and
			// restart the recovery clock.
			b.state = Open
			b.lastFailure = b.now()
			b.halfOpenCalls = 0
			return false
		}
		b.halfOpenCalls++
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()
}

// RecordFailure notes a failed call. Opens the breaker when the streak
// crosses the threshold, or immediately when half-open.
func (b *Breaker) RecordFailure(err error) {
	_ = err // kept for call-site symmetry with RecordSuccess; the cause is logged by callers

	b.mu.Lock()
	b.consecutiveFailures++
	b.lastFailure = b.now()
	switch {
	case b.state == HalfOpen:
		b.state = Open
		b.halfOpenCalls = 0
	case b.consecutiveFailures >= b.cfg.FailureThreshold:
		b.state = Open
	}
	b.mu.Unlock()
}

// Reset forces the breaker closed and clears all counters. Used after a
// successful healing operation.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.halfOpenCalls = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}

// Snapshot returns a read-only view of the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
	}
}
