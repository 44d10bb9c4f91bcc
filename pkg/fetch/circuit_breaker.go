package fetch

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitBreakerState = "closed"
	// CircuitOpen blocks all requests to the host
	CircuitOpen CircuitBreakerState = "open"
	// CircuitHalfOpen lets a probe request through after the cool-down
	CircuitHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreaker tracks consecutive failures against one host
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailure  time.Time
	state        CircuitBreakerState
	successCount int

	failureThreshold  int
	successThreshold  int
	openStateDuration time.Duration
	now               func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and allows a probe after openDuration
func NewCircuitBreaker(failureThreshold int, openDuration time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &CircuitBreaker{
		state:             CircuitClosed,
		failureThreshold:  failureThreshold,
		successThreshold:  1,
		openStateDuration: openDuration,
		now:               time.Now,
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successCount = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request and reports whether the circuit is now open
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.successCount = 0
		return true
	}

	if cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
		return true
	}
	return false
}

// CanExecute reports whether a request may be sent
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	default:
		if cb.now().Sub(cb.lastFailure) > cb.openStateDuration {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// hostBreakers hands out one breaker per host
type hostBreakers struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	threshold int
	open      time.Duration
}

func newHostBreakers(threshold int, open time.Duration) *hostBreakers {
	return &hostBreakers{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		open:      open,
	}
}

func (h *hostBreakers) get(host string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(h.threshold, h.open)
		h.breakers[host] = cb
	}
	return cb
}
