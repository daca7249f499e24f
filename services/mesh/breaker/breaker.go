// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements per-dependency circuit breaking for mesh
// provider calls.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[success]◄── HALF_OPEN ◄──┘
//	                    [cooldown]
type State int

const (
	// StateClosed is the normal operating state.
	StateClosed State = iota

	// StateOpen means the circuit has tripped and calls are rejected.
	StateOpen

	// StateHalfOpen means the cooldown elapsed and the next call probes
	// whether the dependency recovered.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open and the cooldown has not yet elapsed. The wrapped operation is
// never invoked in that case.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config controls how a breaker trips and recovers.
type Config struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 3
	FailureThreshold int

	// Cooldown is how long to stay open before a half-open probe.
	// Default: 60 seconds
	Cooldown time.Duration

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking.
	OnStateChange func(service string, from, to State)
}

// DefaultConfig returns the mesh defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker for status queries.
type Snapshot struct {
	ServiceName         string    `json:"serviceName"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailureTime     time.Time `json:"lastFailureTime,omitzero"`
	FailureThreshold    int       `json:"failureThreshold"`
	CooldownSeconds     int       `json:"cooldownSeconds"`
}

// Breaker guards one named upstream dependency.
//
// # Description
//
// Bounds the latency cost of a degraded dependency to near-zero once
// tripped: after FailureThreshold consecutive failures the circuit opens
// and calls fail fast with ErrCircuitOpen until the cooldown elapses.
// Recovery is a single half-open probe, not a fixed backoff schedule;
// the probe's success closes the circuit and resets the failure count.
//
// # Thread Safety
//
// Breaker is safe for concurrent use.
type Breaker struct {
	service     string
	config      Config
	state       State
	failures    int
	lastFailure time.Time
	mu          sync.Mutex
}

// New creates a closed breaker for the named service.
//
// Zero-value config fields fall back to DefaultConfig values.
func New(service string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}

	return &Breaker{
		service: service,
		config:  config,
		state:   StateClosed,
	}
}

// Execute runs fn if the circuit allows it.
//
// # Description
//
// If the circuit is open and the cooldown has not elapsed, returns
// ErrCircuitOpen without invoking fn. Otherwise invokes fn: success
// resets the failure count (closing a half-open circuit), failure
// increments it and may trip the circuit open.
//
// # Inputs
//
//   - fn: The guarded operation.
//
// # Outputs
//
//   - error: ErrCircuitOpen on fast-fail, or the error from fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return fmt.Errorf("%s: %w", b.service, ErrCircuitOpen)
	}

	err := fn()
	b.record(err)
	return err
}

// Available reports whether a call issued now would be attempted.
//
// Open circuits become available again once the cooldown elapses (the
// call would run as a half-open probe). The synthesis engine uses this
// to decide provider eligibility without consuming the probe.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	return time.Since(b.lastFailure) >= b.config.Cooldown
}

// allow checks if a request should proceed, transitioning to half-open
// when the cooldown has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true

	case StateOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false

	default:
		return false
	}
}

// record updates breaker state from an operation outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()

		switch b.state {
		case StateClosed:
			if b.failures >= b.config.FailureThreshold {
				b.transitionTo(StateOpen)
			}
		case StateHalfOpen:
			// A failed probe reopens the circuit and restarts the
			// cooldown clock (lastFailure was just refreshed).
			b.transitionTo(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) transitionTo(state State) {
	if b.state == state {
		return
	}

	old := b.state
	b.state = state

	if b.config.OnStateChange != nil {
		// Run the callback off the lock to prevent deadlocks.
		go b.config.OnStateChange(b.service, old, state)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns a point-in-time view for status queries.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		ServiceName:         b.service,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		LastFailureTime:     b.lastFailure,
		FailureThreshold:    b.config.FailureThreshold,
		CooldownSeconds:     int(b.config.Cooldown / time.Second),
	}
}

// Reset forces the circuit back to closed with counters cleared.
//
// Use when the dependency is known to be fixed externally.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.state
	b.state = StateClosed
	b.failures = 0

	if old != StateClosed && b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.service, old, StateClosed)
	}
}
