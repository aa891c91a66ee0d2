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

// Package retry implements exponential-backoff retry for RPC operations,
// retrying only errors claudeerr.Retryable classifies as transient (spec
// §4.13).
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
)

// Config parameterizes an Executor.
type Config struct {
	MaxRetries        uint32
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultConfig matches the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Outcome is the result of a retried operation.
type Outcome[T any] struct {
	Value     T
	Success   bool
	LastError error
	Attempts  uint32
}

// HealthRecorder is the subset of health.CircuitBreaker's API that
// ExecuteWithHealth reports into.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure()
}

// Executor runs an operation with exponential-backoff retry.
type Executor struct {
	cfg Config
}

// New constructs an Executor from cfg.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Execute invokes op up to cfg.MaxRetries+1 times, sleeping an
// exponentially increasing backoff between attempts. Only errors
// claudeerr.Retryable accepts are retried; any other error, or exhaustion
// of the retry budget, ends the loop immediately.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) (any, error)) Outcome[any] {
	var attempt uint32
	var lastErr error

	for {
		attempt++
		value, err := op(ctx)
		if err == nil {
			return Outcome[any]{Value: value, Success: true, Attempts: attempt}
		}

		lastErr = err
		if !claudeerr.Retryable(err) || attempt > e.cfg.MaxRetries {
			return Outcome[any]{LastError: lastErr, Attempts: attempt}
		}

		backoff := e.computeBackoff(attempt - 1)
		select {
		case <-ctx.Done():
			return Outcome[any]{LastError: ctx.Err(), Attempts: attempt}
		case <-time.After(backoff):
		}
	}
}

// ExecuteWithHealth behaves like Execute but additionally records each
// attempt's outcome on health.
func (e *Executor) ExecuteWithHealth(ctx context.Context, health HealthRecorder, op func(ctx context.Context) (any, error)) Outcome[any] {
	var attempt uint32
	var lastErr error

	for {
		attempt++
		value, err := op(ctx)
		if err == nil {
			health.RecordSuccess()
			return Outcome[any]{Value: value, Success: true, Attempts: attempt}
		}
		health.RecordFailure()

		lastErr = err
		if !claudeerr.Retryable(err) || attempt > e.cfg.MaxRetries {
			return Outcome[any]{LastError: lastErr, Attempts: attempt}
		}

		backoff := e.computeBackoff(attempt - 1)
		select {
		case <-ctx.Done():
			return Outcome[any]{LastError: ctx.Err(), Attempts: attempt}
		case <-time.After(backoff):
		}
	}
}

// computeBackoff computes initial_backoff * multiplier^attempt, capped at
// max_backoff, plus 0-50% jitter when enabled.
func (e *Executor) computeBackoff(attempt uint32) time.Duration {
	baseMS := float64(e.cfg.InitialBackoff.Milliseconds())
	computed := baseMS * pow(e.cfg.BackoffMultiplier, attempt)
	maxMS := float64(e.cfg.MaxBackoff.Milliseconds())
	capped := computed
	if capped > maxMS {
		capped = maxMS
	}

	total := int64(capped)
	if e.cfg.Jitter && total > 0 {
		total += rand.Int63n(total/2 + 1)
	}
	return time.Duration(total) * time.Millisecond
}

func pow(base float64, exp uint32) float64 {
	result := 1.0
	for i := uint32(0); i < exp; i++ {
		result *= base
	}
	return result
}
