package builtins

import (
	"sync"
	"time"

	"github.com/oarkflow/errors"
)

var ErrCircuitOpen = errors.New("circuit open: too many recent failures")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker stops outbound calls to a host after threshold consecutive
// failures and lets one probe through once openFor has elapsed.
type CircuitBreaker struct {
	failures    int
	threshold   int
	state       breakerState
	lastFailure time.Time
	openFor     time.Duration
	lock        sync.Mutex
}

func NewCircuitBreaker(threshold int, openFor time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, state: breakerClosed, openFor: openFor}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	switch cb.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if time.Since(cb.lastFailure) > cb.openFor {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	cb.failures = 0
	cb.state = breakerClosed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = breakerOpen
		cb.lastFailure = time.Now()
	}
}

// Open reports whether calls are currently being rejected.
func (cb *CircuitBreaker) Open() bool {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	return cb.state == breakerOpen && time.Since(cb.lastFailure) <= cb.openFor
}
