package client

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every round trip through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets trial round trips through.
	BreakerHalfOpen
	// BreakerOpen rejects round trips without contacting the server.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker trips after a run of consecutive server failures and stays open
// for a cool-down before letting trial calls through. It is safe for concurrent
// use.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	now      func() time.Time
	onChange func(BreakerState)
}

// NewBreaker creates a breaker. Zero thresholds and cooldown take the
// defaults of 5 failures, 2 trial successes and 30 seconds.
func NewBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// OnChange registers f to be called, with the lock held, on every state
// change.
func (b *Breaker) OnChange(f func(BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = f
}

// Allow reports whether a round trip may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a round trip the server answered.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.failures, b.successes = 0, 0
			b.set(BreakerClosed)
		}
	}
}

// RecordFailure records a round trip that failed at the server or in
// transit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current moves an expired open breaker to half-open. Must be called with
// the lock held.
func (b *Breaker) current() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.successes = 0
		b.set(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.successes = 0
	b.set(BreakerOpen)
}

func (b *Breaker) set(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}
