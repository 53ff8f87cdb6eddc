// Package resilience implements the circuit breaker protecting the
// SharedStore's Redis path and the live ReasoningProvider's HTTP path,
// trimmed from the teacher framework's full sliding-window breaker down to
// the closed/open/half-open state machine the two call sites need.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/threatanalysis/coordinator/internal/logging"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// cooldown window has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is one of closed, open, half-open.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config mirrors the teacher's CircuitBreakerConfig shape.
type Config struct {
	Threshold        int           // consecutive failures before opening
	Timeout          time.Duration // how long to stay open before probing
	HalfOpenRequests int           // successes required in half-open to close
}

// DefaultConfig returns the teacher's defaults: open after 5 failures,
// probe again after 30s, close after 3 consecutive half-open successes.
func DefaultConfig() Config {
	return Config{Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3}
}

// CircuitBreaker implements core.CircuitBreaker's surface: Execute,
// ExecuteWithTimeout, GetState, GetMetrics, Reset, CanExecute.
type CircuitBreaker struct {
	name   string
	config Config
	logger logging.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenSuccess int
	openedAt        time.Time
	totalSuccess    int64
	totalFailure    int64
}

// New builds a breaker in the closed state.
func New(name string, config Config, logger logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &CircuitBreaker{name: name, config: config, logger: logger, state: StateClosed}
}

// CanExecute reports whether a call would currently be allowed through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.canExecuteLocked()
}

func (cb *CircuitBreaker) canExecuteLocked() bool {
	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.halfOpenSuccess = 0
			cb.logger.Info("circuit breaker probing", logging.Fields{"name": cb.name})
			return true
		}
		return false
	default:
		return true
	}
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if !cb.canExecuteLocked() {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := fn()
	cb.recordResult(err)
	return err
}

// ExecuteWithTimeout runs fn under both circuit breaker protection and a
// hard deadline, so a hanging dependency can't wedge the breaker open.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	cb.mu.Lock()
	if !cb.canExecuteLocked() {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		err = tctx.Err()
	}
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccess++
		switch cb.state {
		case StateHalfOpen:
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.config.HalfOpenRequests {
				cb.state = StateClosed
				cb.consecutiveFail = 0
				cb.logger.Info("circuit breaker closed", logging.Fields{"name": cb.name})
			}
		case StateClosed:
			cb.consecutiveFail = 0
		}
		return
	}

	cb.totalFailure++
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.logger.Warn("circuit breaker re-opened on probe failure", logging.Fields{"name": cb.name})
	case StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.config.Threshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			cb.logger.Warn("circuit breaker opened", logging.Fields{
				"name":              cb.name,
				"consecutive_fails": cb.consecutiveFail,
			})
		}
	}
}

// GetState returns the current state as a string, matching the teacher's
// string-valued GetState contract.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return string(cb.state)
}

// GetMetrics returns a snapshot suitable for the /ready diagnostics endpoint.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":             cb.name,
		"state":            string(cb.state),
		"total_success":    cb.totalSuccess,
		"total_failure":    cb.totalFailure,
		"consecutive_fail": cb.consecutiveFail,
	}
}

// Reset clears all failure state and returns the breaker to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenSuccess = 0
}
