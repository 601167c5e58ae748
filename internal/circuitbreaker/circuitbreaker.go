// Package circuitbreaker stops calling a failing delivery channel for a while
// so one dead destination cannot stall a poll cycle.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the current state of the circuit breaker.
//
// State transitions:
//
//	Closed -> Open:      When failure count >= threshold
//	Open -> HalfOpen:    After recovery timeout expires
//	HalfOpen -> Closed:  When a trial request succeeds
//	HalfOpen -> Open:    When a trial request fails
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // requests fail fast
	StateHalfOpen              // limited trial requests allowed
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

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies the protected channel, e.g. "webhook" or "email".
	Name string

	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures int

	// RecoveryTimeout is how long to stay open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the max requests allowed in half-open state.
	HalfOpenMaxRequests int

	// OnStateChange, if set, is called after every transition with the lock released.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the settings used for every delivery channel.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures of one downstream channel.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a new CircuitBreaker with the given configuration.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	cb := &CircuitBreaker{
		config: cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.lastStateChange = cb.now()

	logger.Debug("circuit breaker created",
		zap.String("name", cfg.Name),
		zap.Int("max_failures", cfg.MaxFailures),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	return cb
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	cb.totalRequests++

	var allowed bool
	var changed bool
	from := cb.state

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			changed = cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			allowed = true
		} else {
			cb.totalRejected++
		}

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			allowed = true
		} else {
			cb.totalRejected++
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return allowed
}

// RecordSuccess resets the failure streak and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.totalSuccesses++
	cb.failureCount = 0

	from := cb.state
	changed := false
	if cb.state == StateHalfOpen {
		changed = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	if changed {
		cb.logger.Info("circuit breaker closed, channel recovered",
			zap.String("name", cb.config.Name),
		)
		cb.notify(from, StateClosed)
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold, or
// immediately when a half-open trial call fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	from := cb.state
	changed := false
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			changed = cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		changed = cb.transitionTo(StateOpen)
	}
	failures := cb.failureCount
	cb.mu.Unlock()

	if changed {
		cb.logger.Warn("circuit breaker opened",
			zap.String("name", cb.config.Name),
			zap.String("from", from.String()),
			zap.Int("failures", failures),
			zap.Int("threshold", cb.config.MaxFailures),
		)
		cb.notify(from, StateOpen)
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot served on /health/channels.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}
	if !cb.lastFailureTime.IsZero() {
		s.LastFailure = cb.lastFailureTime.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	changed := cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.halfOpenRequests = 0
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker manually reset",
		zap.String("name", cb.config.Name),
	)
	if changed {
		cb.notify(from, StateClosed)
	}
}

// transitionTo changes state; the caller holds the lock.
func (cb *CircuitBreaker) transitionTo(newState State) bool {
	if cb.state == newState {
		return false
	}
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.halfOpenRequests = 0
	return true
}

func (cb *CircuitBreaker) notify(from, to State) {
	cb.logger.Debug("circuit breaker state transition",
		zap.String("name", cb.config.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
