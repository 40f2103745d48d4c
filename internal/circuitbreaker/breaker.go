// Package circuitbreaker sheds calls to failing upstreams. The antifraud
// pipeline puts one in front of the IP reputation provider: once the provider
// keeps failing, scoring stops waiting on it until a probe succeeds.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the circuit position for one key.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets exactly one probe through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shopfence",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks an independent circuit per key. Keys the breaker has never
// seen behave as closed circuits.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	// threshold is the consecutive-failure count that trips the circuit;
	// cooldown is how long it stays open before a probe is allowed.
	threshold int
	cooldown  time.Duration
	observer  func(key string, from, to State)
}

// New creates a breaker tripping after threshold consecutive failures and
// cooling down for the given duration. Non-positive arguments fall back to
// 5 failures / 30s.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// OnTransition registers an observer for state changes. The observer runs on
// its own goroutine and must not call back into the breaker synchronously.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed. An open circuit whose
// cooldown has elapsed moves to half-open and admits this one call as the
// probe; further calls are rejected until the probe is recorded.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) < b.cooldown {
			return false
		}
		b.setState(key, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	}
	return true
}

// RecordSuccess clears the failure count and, after a successful probe,
// closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return
	}
	if c.state == StateHalfOpen {
		b.setState(key, c, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts one failure. Reaching the threshold while closed, or
// failing the half-open probe, opens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.setState(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.setState(key, c, StateOpen)
	}
}

// State returns the circuit position for key.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.circuits[key]; c != nil {
		return c.state
	}
	return StateClosed
}

// setState records the transition metric and notifies the observer.
// Caller holds b.mu.
func (b *Breaker) setState(key string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.observer != nil {
		go b.observer(key, from, to)
	}
}
