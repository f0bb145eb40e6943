// Package resilience guards calls to the ads API with a circuit breaker so a
// provider outage fails the remaining accounts fast instead of timing each out.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive tripping failures open the circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before probing. Default 60s.
	ResetTimeout time.Duration
	// HalfOpenMaxProbes successful probes close the circuit again. Default 1.
	HalfOpenMaxProbes int
	// ShouldTrip decides whether an error counts as a failure. Nil counts
	// every non-nil error.
	ShouldTrip func(err error) bool
	// OnStateChange is called on every transition, with the breaker locked.
	OnStateChange func(from, to CircuitState)
}

// FromSyncConfig builds a breaker config from the sync.breaker_* settings.
// Non-positive values keep the defaults.
func FromSyncConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: failureThreshold,
		ResetTimeout:     time.Duration(resetTimeoutSecs) * time.Second,
	}.withDefaults()
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = 1
	}
	return c
}

// BreakerStatus is a point-in-time view of a breaker, reported on /status.
type BreakerStatus struct {
	State               CircuitState `json:"state" yaml:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures" yaml:"consecutive_failures"`
	Trips               int          `json:"trips" yaml:"trips"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty" yaml:"opened_at,omitempty"`
}

// CircuitBreaker guards a single upstream service.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	probes   int
	trips    int
	lastFail time.Time
	openedAt time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// ExecuteVal runs fn unless the circuit is open and records its outcome.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State returns the current state. An open circuit past its reset timeout
// reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := BreakerStatus{
		State:               cb.effectiveState(),
		ConsecutiveFailures: cb.failures,
		Trips:               cb.trips,
	}
	if cb.state != CircuitClosed {
		opened := cb.openedAt
		st.OpenedAt = &opened
	}
	return st
}

func (cb *CircuitBreaker) effectiveState() CircuitState {
	if cb.state == CircuitOpen && cb.cooledDown() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.lastFail) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if !cb.cooledDown() {
		return ErrCircuitOpen
	}
	cb.moveTo(CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || (cb.cfg.ShouldTrip != nil && !cb.cfg.ShouldTrip(err)) {
		cb.succeeded()
		return
	}

	cb.failures++
	cb.lastFail = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.probes = 0
		if cb.state != CircuitOpen {
			cb.trips++
			cb.openedAt = cb.lastFail
			cb.moveTo(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) succeeded() {
	if cb.state != CircuitHalfOpen {
		cb.failures = 0
		return
	}
	cb.probes++
	if cb.probes >= cb.cfg.HalfOpenMaxProbes {
		cb.failures = 0
		cb.probes = 0
		cb.moveTo(CircuitClosed)
	}
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
