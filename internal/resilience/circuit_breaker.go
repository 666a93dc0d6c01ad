package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/devsynth/hybridmemory/internal/core"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreakerConfig configures a CircuitBreaker, following the
// Config+Validate()+DefaultConfig() convention used across this package.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	TestCalls        int
	OnOpen           func(funcName string)
	OnClose          func(funcName string)
	OnHalfOpen       func(funcName string)
	Logger           Logger
	Metrics          *Registry
}

// DefaultCircuitBreakerConfig mirrors fallback.py's defaults:
// failure_threshold=5, recovery_timeout=60s, test_calls=1.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		TestCalls:        1,
	}
}

// Validate checks the configuration is usable, defaulting zero fields.
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.TestCalls <= 0 {
		c.TestCalls = 1
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = Global()
	}
	return nil
}

// CircuitBreaker implements the CLOSED/OPEN/HALF_OPEN finite state machine
// described in spec §4.1.3, with the Config/hook/logger shape used
// throughout this package.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenSlots   int
	halfOpenSuccess int
}

// NewCircuitBreaker builds a breaker from cfg, applying defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	_ = cfg.Validate()
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to CLOSED with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenSlots = 0
	cb.halfOpenSuccess = 0
	cb.cfg.Logger.Warn("circuit breaker reset", map[string]any{"name": cb.cfg.Name})
}

// admit decides whether a call may proceed, returning an error if fast-failed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := time.Since(cb.lastFailureTime)
		if elapsed >= cb.cfg.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenSlots = cb.cfg.TestCalls - 1
			cb.halfOpenSuccess = 0
			return nil
		}
		remaining := cb.cfg.RecoveryTimeout - elapsed
		return core.NewErrorWithDetails("circuit_breaker.call", core.KindReliability, core.CodeCircuitOpen,
			core.ErrCircuitOpen, map[string]any{"function": cb.cfg.Name, "recovery_time_remaining": remaining.Seconds()})
	case StateHalfOpen:
		if cb.halfOpenSlots <= 0 {
			return core.NewErrorWithDetails("circuit_breaker.call", core.KindReliability, core.CodeCircuitOpen,
				core.ErrCircuitOpen, map[string]any{"function": cb.cfg.Name, "recovery_time_remaining": 0.0})
		}
		cb.halfOpenSlots--
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.TestCalls {
			cb.transitionLocked(StateClosed)
			cb.failureCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failureCount >= cb.cfg.FailureThreshold) {
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	cb.cfg.Metrics.IncCircuitBreakerState(cb.cfg.Name, string(to))
	cb.cfg.Logger.Warn(fmt.Sprintf("circuit breaker %s: %s -> %s", cb.cfg.Name, from, to),
		map[string]any{"name": cb.cfg.Name, "from": string(from), "to": string(to)})
	var hook func(string)
	switch to {
	case StateOpen:
		hook = cb.cfg.OnOpen
	case StateClosed:
		hook = cb.cfg.OnClose
	case StateHalfOpen:
		hook = cb.cfg.OnHalfOpen
	}
	if hook != nil {
		safeHook(hook, cb.cfg.Name, cb.cfg.Logger)
	}
}

func safeHook(hook func(string), name string, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("circuit breaker hook panicked", map[string]any{"name": name, "panic": r})
		}
	}()
	hook(name)
}

// Execute runs fn through the breaker: fast-fails with CIRCUIT_OPEN while
// open, admits up to TestCalls test calls while half-open (one with the
// default config, per spec Scenario S4), and records the outcome.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		cb.recordFailure()
		return zero, err
	}
	cb.recordSuccess()
	return result, nil
}
