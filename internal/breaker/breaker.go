// Package breaker implements the circuit breaker state machine guarding
// calls to a degrading external dependency.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the conventional upper-case name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Breaker tracks the health of one external dependency.
//
// Transitions: CLOSED -> OPEN after FailureThreshold consecutive failures;
// OPEN -> HALF_OPEN once Cooldown has elapsed since the last failure;
// HALF_OPEN -> CLOSED after SuccessThreshold consecutive successes;
// any HALF_OPEN failure -> OPEN with the cooldown reset.
type Breaker struct {
	mu sync.Mutex

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	probesIssued         int
	lastFailure          time.Time
	lastSuccess          time.Time

	failureThreshold int
	successThreshold int
	probeLimit       int
	cooldown         time.Duration

	now func() time.Time
}

// New creates a closed Breaker with the given thresholds.
func New(failureThreshold, successThreshold, probeLimit int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	if probeLimit < 1 {
		probeLimit = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		probeLimit:       probeLimit,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN to HALF_OPEN
// when the cooldown has elapsed. In HALF_OPEN, at most the configured number
// of probe calls are admitted until an outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = HalfOpen
			b.consecutiveSuccesses = 0
			b.probesIssued = 1
			return true
		}
		return false
	case HalfOpen:
		if b.probesIssued < b.probeLimit {
			b.probesIssued++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess registers a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	b.consecutiveFailures = 0

	switch b.state {
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = Closed
			b.consecutiveSuccesses = 0
		} else {
			// Outcome recorded; next probe may proceed.
			b.probesIssued = 0
		}
	case Closed:
		b.consecutiveSuccesses++
	}
}

// RecordFailure registers a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.consecutiveSuccesses = 0

	switch b.state {
	case HalfOpen:
		// One bad probe reopens the circuit and restarts the cooldown.
		b.state = Open
		b.consecutiveFailures = b.failureThreshold
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = Open
		}
	case Open:
		b.consecutiveFailures++
	}
}

// State returns the current circuit state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastFailure returns the time of the most recent recorded failure.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// LastSuccess returns the time of the most recent recorded success.
func (b *Breaker) LastSuccess() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSuccess
}
