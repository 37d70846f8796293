package circuitbreaker

import (
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

type platformState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks consecutive publish failures per platform and stops
// hammering a platform endpoint that is clearly down. One probe is allowed
// through after the cooldown (half-open); its outcome closes or re-opens
// the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*platformState
	threshold int
	cooldown  time.Duration
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*platformState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (cb *CircuitBreaker) Allow(platform string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[platform]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(platform string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[platform]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(platform string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[platform]
	if !ok {
		s = &platformState{}
		cb.states[platform] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = time.Now()
	}
}
