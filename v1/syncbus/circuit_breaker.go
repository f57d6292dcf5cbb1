package syncbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreakerBus decorates a Bus with circuit breaker logic. After
// threshold consecutive publish failures it rejects publishes with
// ErrCircuitOpen until timeout has passed, then lets a single probe through.
type CircuitBreakerBus struct {
	bus       Bus
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewCircuitBreaker returns a new CircuitBreakerBus. A threshold below 1 is
// treated as 1.
func NewCircuitBreaker(bus Bus, threshold int, timeout time.Duration) *CircuitBreakerBus {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreakerBus{
		bus:       bus,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true unless the circuit is open and still cooling down.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen {
		return time.Since(cb.lastFail) > cb.timeout
	}
	return true
}

// allow checks if a request should be allowed.
// It handles the transition from Open to Half-Open based on timeout.
func (cb *CircuitBreakerBus) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFail) > cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	default:
		// a probe is already in flight
		return false
	}
}

func (cb *CircuitBreakerBus) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
}

func (cb *CircuitBreakerBus) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = time.Now()
	cb.failures++
	if cb.state == stateHalfOpen || cb.failures >= cb.threshold {
		cb.state = stateOpen
	}
}

// Publish implements Bus.Publish with circuit breaker logic.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := cb.bus.Publish(ctx, topic, payload); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// Subscribe is passed through unprotected.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return cb.bus.Subscribe(ctx, topic)
}

func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	return cb.bus.Unsubscribe(ctx, topic, ch)
}
