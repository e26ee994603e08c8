// Package resilience provides fail-fast primitives for outbound index
// queries: a circuit breaker and a context-based timeout wrapper. Neither
// retries.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before one probe is
	// let through. Default 30s.
	ResetTimeout time.Duration
	// IsFailure decides which errors count against the threshold. Errors it
	// rejects are returned to the caller and reset the failure streak. Nil
	// counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker's lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, to State)
}

// CircuitBreaker allows a single probe after ResetTimeout; the probe's
// outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err != nil && cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if !failed {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// Reset closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateOpen {
		cb.logger.Warn("circuit opened", "from", from.String(), "consecutive_failures", cb.failures)
	} else {
		cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
