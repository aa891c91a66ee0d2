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

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/health"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint32(3), cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 2.0, cfg.BackoffMultiplier, 0.001)
	assert.True(t, cfg.Jitter)
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	e := New(DefaultConfig())
	calls := 0
	outcome := e.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	assert.True(t, outcome.Success)
	assert.Equal(t, "ok", outcome.Value)
	assert.Equal(t, uint32(1), outcome.Attempts)
	assert.Equal(t, 1, calls)
}

func TestExecuteSuccessAfterFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	e := New(cfg)
	calls := 0
	outcome := e.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, claudeerr.New(claudeerr.ConnectionReset, "")
		}
		return "ok", nil
	})
	assert.True(t, outcome.Success)
	assert.Equal(t, uint32(3), outcome.Attempts)
}

func TestExecuteExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.InitialBackoff = time.Millisecond
	e := New(cfg)
	calls := 0
	outcome := e.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, claudeerr.New(claudeerr.ConnectionReset, "")
	})
	assert.False(t, outcome.Success)
	assert.Equal(t, uint32(4), outcome.Attempts)
	assert.Equal(t, 4, calls)
}

func TestExecuteNoRetryOnPermanentError(t *testing.T) {
	e := New(DefaultConfig())
	calls := 0
	outcome := e.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, claudeerr.New(claudeerr.InvalidFrame, "bad frame")
	})
	assert.False(t, outcome.Success)
	assert.Equal(t, uint32(1), outcome.Attempts)
	assert.Equal(t, 1, calls)
}

func TestComputeBackoffNoJitter(t *testing.T) {
	cfg := Config{
		MaxRetries: 3, InitialBackoff: 100 * time.Millisecond,
		MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0, Jitter: false,
	}
	e := New(cfg)
	assert.Equal(t, 100*time.Millisecond, e.computeBackoff(0))
	assert.Equal(t, 200*time.Millisecond, e.computeBackoff(1))
	assert.Equal(t, 400*time.Millisecond, e.computeBackoff(2))
}

func TestComputeBackoffCapped(t *testing.T) {
	cfg := Config{
		MaxRetries: 10, InitialBackoff: 100 * time.Millisecond,
		MaxBackoff: 500 * time.Millisecond, BackoffMultiplier: 2.0, Jitter: false,
	}
	e := New(cfg)
	assert.Equal(t, 500*time.Millisecond, e.computeBackoff(10))
}

func TestExecuteWithHealthRecordsFailuresAndSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = time.Millisecond
	e := New(cfg)
	c := clock.NewSimulatedClock(time.Unix(0, 0))
	cbCfg := health.DefaultCircuitBreakerConfig()
	cbCfg.FailureThreshold = 100
	cb := health.NewCircuitBreaker(cbCfg, c)

	outcome := e.ExecuteWithHealth(context.Background(), cb, func(ctx context.Context) (any, error) {
		return nil, claudeerr.New(claudeerr.ConnectionReset, "")
	})
	assert.False(t, outcome.Success)
	assert.Equal(t, uint32(3), outcome.Attempts)
	assert.Equal(t, uint32(3), cb.FailureCount())

	cb2 := health.NewCircuitBreaker(health.DefaultCircuitBreakerConfig(), c)
	outcome2 := e.ExecuteWithHealth(context.Background(), cb2, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	assert.True(t, outcome2.Success)
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialBackoff = 50 * time.Millisecond
	e := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	outcome := e.Execute(ctx, func(ctx context.Context) (any, error) {
		calls++
		return nil, claudeerr.New(claudeerr.ConnectionReset, "")
	})
	assert.False(t, outcome.Success)
	assert.ErrorIs(t, outcome.LastError, context.Canceled)
}
