// Package breaker implements a per-operation circuit breaker. One instance
// guards exactly one operation family; it classifies outcomes as pass/fail
// only and never inspects the error cause.
package breaker

import (
	"context"
	"errors"
	"time"

	"sync"

	"github.com/viant/taskpool/internal/clock"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State identifies the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration `json:"resetTimeout" yaml:"resetTimeout"`
	// HalfOpenMaxAttempts bounds probes allowed before reopening.
	HalfOpenMaxAttempts int `json:"halfOpenMaxAttempts" yaml:"halfOpenMaxAttempts"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// Snapshot is a read-only view of the breaker counters.
type Snapshot struct {
	State            State
	FailureCount     int
	HalfOpenAttempts int
	LastFailureAt    time.Time
	LastSuccessAt    time.Time
}

// CircuitBreaker isolates failures of a single wrapped operation.
type CircuitBreaker struct {
	config Config

	mu               sync.Mutex
	state            State
	failureCount     int
	halfOpenAttempts int
	lastFailureAt    time.Time
	lastSuccessAt    time.Time
}

// New creates a closed breaker with the supplied configuration.
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if config.HalfOpenMaxAttempts <= 0 {
		config.HalfOpenMaxAttempts = DefaultConfig().HalfOpenMaxAttempts
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs op through the breaker. When open it fails immediately with
// ErrCircuitOpen without invoking op. The open-to-half-open transition is
// evaluated lazily on the next call, not by a background timer.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := op(ctx)
	cb.record(err)
	return err
}

// admit decides whether a call may proceed and advances open->half-open when
// the reset timeout elapsed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := clock.Now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastFailureAt) <= cb.config.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenAttempts = 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMaxAttempts {
			cb.state = StateOpen
			cb.lastFailureAt = now
			return ErrCircuitOpen
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// record applies the outcome of an admitted call.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := clock.Now()
	if err == nil {
		cb.lastSuccessAt = now
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.halfOpenAttempts = 0
		}
		return
	}

	cb.lastFailureAt = now
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	}
}

// State returns the current state without advancing transitions.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		HalfOpenAttempts: cb.halfOpenAttempts,
		LastFailureAt:    cb.lastFailureAt,
		LastSuccessAt:    cb.lastSuccessAt,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenAttempts = 0
}
