// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package health implements per-link circuit breaking, lag SLA tracking,
// and replication link/cluster health aggregation (spec §4.11).
package health

import (
	"sync"
	"time"

	"github.com/dirkpetersen/claudefs/clock"
)

// CircuitState is one of the three circuit breaker states.
type CircuitState uint8

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig parameterizes a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold    uint32
	SuccessThreshold    uint32
	OpenDuration        time.Duration
	HalfOpenMaxRequests uint32
}

// DefaultCircuitBreakerConfig matches the original implementation's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    3,
		OpenDuration:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker implements the Closed/Open/HalfOpen fault-tolerance
// pattern (§4.11): Closed counts consecutive failures; FailureThreshold
// trips to Open; Open rejects until OpenDuration elapses then admits up to
// HalfOpenMaxRequests trial requests; a HalfOpen success closes after
// SuccessThreshold, any HalfOpen failure reopens.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg   CircuitBreakerConfig
	clock clock.Clock

	state            CircuitState
	failureCount     uint32
	successCount     uint32
	halfOpenRequests uint32
	openedAt         time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig, c clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, clock: c, state: Closed}
}

// CanExecute reports whether a request may proceed, transitioning
// Open->HalfOpen as a side effect once OpenDuration has elapsed.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.openedAt.IsZero() {
			return true
		}
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenDuration {
			if b.halfOpenRequests < b.cfg.HalfOpenMaxRequests {
				b.halfOpenRequests++
				b.state = HalfOpen
				return true
			}
			return false
		}
		return false
	case HalfOpen:
		if b.halfOpenRequests < b.cfg.HalfOpenMaxRequests {
			b.halfOpenRequests++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In Closed state this resets the
// failure count; in HalfOpen it counts toward SuccessThreshold and closes
// the circuit once reached.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenRequests = 0
			b.openedAt = time.Time{}
		}
	case Closed:
		b.failureCount = 0
	}
}

// RecordFailure reports a failed call. In Closed state this counts toward
// FailureThreshold and opens the circuit once reached; in HalfOpen any
// failure immediately reopens it.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}
	case HalfOpen:
		b.state = Open
		b.halfOpenRequests = 0
		b.openedAt = b.clock.Now()
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *CircuitBreaker) FailureCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// SuccessCount returns the current consecutive-success count (only
// meaningful in HalfOpen).
func (b *CircuitBreaker) SuccessCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successCount
}

// Reset forces the breaker back to Closed with all counters cleared.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenRequests = 0
	b.openedAt = time.Time{}
}
