// Package breaker implements a per-resource circuit breaker. The scheduler
// consults Allow before dispatch and feeds outcomes back through
// RecordSuccess and RecordFailure. Closed circuits open after a run of
// consecutive failures; open circuits admit a single half-open probe once
// the cooldown elapses.
package breaker

import (
	"sync"
	"time"
)

// Defaults for the breaker policy.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = time.Minute
)

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

type circuit struct {
	state         circuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Breaker gates dispatch per resource key.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	nowFunc   func() time.Time
}

// New creates a Breaker with the given policy. Zero values take defaults.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFunc = fn
}

// Allow reports whether dispatch against the resource is currently
// permitted. An open circuit past its cooldown admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		if c.probeInFlight {
			return false
		}
		c.probeInFlight = true
		return true
	default: // stateOpen
		if b.nowFunc().Sub(c.openedAt) < b.cooldown {
			return false
		}
		c.state = stateHalfOpen
		c.probeInFlight = true
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure run.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.state = stateClosed
	c.failures = 0
	c.probeInFlight = false
}

// RecordFailure extends the failure run; at the threshold the circuit
// opens. A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.failures++
	c.probeInFlight = false
	if c.state == stateHalfOpen || c.failures >= b.threshold {
		c.state = stateOpen
		c.openedAt = b.nowFunc()
	}
}

// Open reports whether the circuit for key is currently open.
func (b *Breaker) Open(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	return ok && c.state == stateOpen
}
