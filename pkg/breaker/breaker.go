// Package breaker wraps venue calls with a circuit breaker and bounded
// retries so a degraded venue cannot soak up the whole event backlog.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call
// without attempting it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's current mode.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker counts consecutive failures and trips open once the threshold is
// reached. While open, calls fail fast. After the open timeout a single
// probe call is allowed through; its outcome decides whether the breaker
// closes again or re-opens.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	failureThreshold int
	timeout          time.Duration
	openedAt         time.Time
	probing          bool

	now func() time.Time // overridable in tests
}

// New creates a closed breaker. failureThreshold is the number of
// consecutive failures that trips it; timeout is how long it stays open
// before allowing a probe.
func New(failureThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and
// the timeout has elapsed, exactly one caller is granted the probe slot and
// the breaker moves to half_open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		// Probe already in flight.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful call. A successful probe closes the breaker
// and resets the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed call. In half_open the breaker re-opens
// immediately; in closed it opens once consecutive failures reach the
// threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.failures = 0
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn through the breaker. If the breaker disallows the call, Do
// returns ErrCircuitOpen without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
