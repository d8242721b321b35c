// Package breaker implements a three-state circuit breaker guarding
// calls to an external dependency.
//
// Each dependency owns an independent Breaker instance; failures in one
// dependency never affect another. All state transitions happen under a
// single mutex so concurrent callers observe a consistent state and at
// most one trial call is in flight during half-open recovery.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
)

// State identifies the breaker's current mode.
type State int

const (
	// Closed is the initial state: calls pass through.
	Closed State = iota

	// Open rejects calls immediately without invoking the wrapped
	// function.
	Open

	// HalfOpen admits exactly one trial call to probe recovery.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config holds the breaker configuration.
type Config struct {
	// Name identifies the guarded dependency in errors, logs, and
	// metrics.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5.
	FailureThreshold int

	// Timeout is how long the breaker stays open before admitting a
	// half-open trial call. Default: 60s.
	Timeout time.Duration

	// Clock allows injecting a deterministic time source in tests.
	// If nil, time.Now is used.
	Clock func() time.Time

	// OnStateChange, if set, is invoked whenever the breaker
	// transitions. It runs with the breaker's lock held and must not
	// call back into the breaker. Used to keep the state gauge current.
	OnStateChange func(name string, state State)

	// Logger receives transition logs. If nil, slog.Default is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Breaker is a three-state circuit breaker. The zero value is not
// usable; construct with New.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// New creates a circuit breaker in the Closed state.
func New(cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{config: cfg, state: Closed}
}

// Do executes fn under breaker protection.
//
// In the Open state fn is never invoked and a CircuitOpen error is
// returned, unless the open timeout has elapsed, in which case the
// breaker promotes to HalfOpen and admits this call as the single trial.
// While a half-open trial is in flight every other caller is rejected.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.settle(err)
	return err
}

// admit decides whether the call may proceed, performing the
// Open→HalfOpen promotion when due.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.config.Clock().Sub(b.lastFailureTime) < b.config.Timeout {
			return api.NewCircuitOpenError(b.config.Name)
		}
		b.transition(HalfOpen)
		b.trialInFlight = true
		return nil
	case HalfOpen:
		if b.trialInFlight {
			return api.NewCircuitOpenError(b.config.Name)
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// settle records the call result and applies the resulting transition.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false

	if err == nil {
		b.failureCount = 0
		if b.state != Closed {
			b.transition(Closed)
		}
		return
	}

	b.failureCount++
	b.lastFailureTime = b.config.Clock()

	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(Open)
		}
	}
}

// transition switches state and notifies observers. Must be called with
// the lock held.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next

	b.config.Logger.Info("circuit breaker state change",
		"breaker", b.config.Name,
		"from", prev.String(),
		"to", next.String(),
		"failures", b.failureCount)

	if b.config.OnStateChange != nil {
		// Observers must not call back into the breaker.
		b.config.OnStateChange(b.config.Name, next)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset forces the breaker back to Closed with zeroed counters. For
// operational recovery only; normal request flow never calls this.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.trialInFlight = false
	if b.state != Closed {
		b.transition(Closed)
	}
}
