package tools

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow
	CircuitOpen                         // calls rejected until cooldown elapses
	CircuitHalfOpen                     // limited probe calls allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // time open before a probe is allowed
	HalfOpenMax      int           // probes allowed while half-open
}

// DefaultBreakerConfig opens after 5 failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

// CircuitBreaker guards one remote endpoint.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	cfg         BreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
	probes      int
	now         func() time.Time
	onChange    func(name string, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker. onChange, if set, is called
// outside the lock on every state transition.
func NewCircuitBreaker(name string, cfg BreakerConfig, onChange func(string, CircuitState)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now, onChange: onChange}
}

// Allow returns nil if a call may proceed, CIRCUIT_OPEN otherwise.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	var changed bool
	var err error
	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.state = CircuitHalfOpen
			b.probes = 1
			changed = true
		} else {
			err = schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open after %d consecutive failures", b.failures).
				WithTool(b.name).
				WithDetails(map[string]any{
					"cooldown_remaining": (b.cfg.Cooldown - b.now().Sub(b.lastFailure)).String(),
				})
		}
	case CircuitHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			err = schema.NewError(schema.ErrCodeCircuitOpen, "circuit half-open, probe in flight").WithTool(b.name)
		} else {
			b.probes++
		}
	}
	state := b.state
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
	return err
}

// RecordSuccess closes the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	changed := b.state != CircuitClosed
	b.state = CircuitClosed
	b.failures = 0
	b.probes = 0
	b.mu.Unlock()

	if changed {
		b.notify(CircuitClosed)
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold
// or on any failed probe. Returns the resulting state.
func (b *CircuitBreaker) RecordFailure() CircuitState {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.now()
	prev := b.state
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
	state := b.state
	b.mu.Unlock()

	if state != prev {
		b.notify(state)
	}
	return state
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) notify(to CircuitState) {
	if b.onChange != nil {
		b.onChange(b.name, to)
	}
}

// BreakerTelemetry returns an onChange callback that reports circuit
// transitions to sink as circuit_breaker_* events.
func BreakerTelemetry(sink telemetry.Sink) func(string, CircuitState) {
	return func(name string, to CircuitState) {
		event := schema.EventCircuitBreakerClosed
		switch to {
		case CircuitOpen:
			event = schema.EventCircuitBreakerOpen
		case CircuitHalfOpen:
			event = schema.EventCircuitBreakerHalfOpen
		}
		sink.LogEvent(context.Background(), event, map[string]any{"tool": name, "state": to.String()})
	}
}
