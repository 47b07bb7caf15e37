package lookup

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// CircuitBreaker stops calling the lookup service after consecutive transport
// failures. After RecoveryTimeout a single probe is let through; its outcome
// closes or re-opens the breaker.
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	state    breakerState
	failures int
	probing  bool
	openedAt time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewCircuitBreaker creates a new CircuitBreaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a remote call may be made now
func (cb *CircuitBreaker) Allow() bool {
	if !cb.cfg.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.RecoveryTimeout {
			return false
		}
		cb.state = breakerHalfOpen
		cb.probing = true
		return true
	case breakerHalfOpen:
		// one probe at a time
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of a call that Allow let through.
// Only transport failures count against the remote.
func (cb *CircuitBreaker) Report(failed bool) {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if !failed {
		cb.state = breakerClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = breakerOpen
		cb.openedAt = cb.now()
	}
}

// State returns the breaker state name
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
