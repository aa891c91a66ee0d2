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

package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(100_000_000), cfg.BytesPerSec)
	assert.Equal(t, uint64(100_000), cfg.EntriesPerSec)
}

func TestTrySendWithinBudget(t *testing.T) {
	th := New(DefaultConfig())
	now := time.Unix(0, 0)
	assert.True(t, th.TrySend(1, 1000, 10, now))
}

func TestTrySendDeniedOverBudget(t *testing.T) {
	cfg := Config{BytesPerSec: 1000, EntriesPerSec: 1000, BurstFactor: 1.0}
	th := New(cfg)
	now := time.Unix(0, 0)
	assert.True(t, th.TrySend(1, 1000, 1, now))
	assert.False(t, th.TrySend(1, 1, 1, now))
}

func TestTrySendRefillsOverTime(t *testing.T) {
	cfg := Config{BytesPerSec: 1000, EntriesPerSec: 1000, BurstFactor: 1.0}
	th := New(cfg)
	now := time.Unix(0, 0)
	th.TrySend(1, 1000, 1, now)
	assert.False(t, th.TrySend(1, 1000, 1, now))

	later := now.Add(time.Second)
	assert.True(t, th.TrySend(1, 1000, 1, later))
}

func TestTrySendEntryBudgetIndependentOfBytes(t *testing.T) {
	cfg := Config{BytesPerSec: 1_000_000, EntriesPerSec: 2, BurstFactor: 1.0}
	th := New(cfg)
	now := time.Unix(0, 0)
	assert.True(t, th.TrySend(1, 10, 2, now))
	assert.False(t, th.TrySend(1, 10, 1, now))
}

func TestTrySendPerPeerIndependent(t *testing.T) {
	cfg := Config{BytesPerSec: 1000, EntriesPerSec: 1000, BurstFactor: 1.0}
	th := New(cfg)
	now := time.Unix(0, 0)
	assert.True(t, th.TrySend(1, 1000, 1, now))
	assert.True(t, th.TrySend(2, 1000, 1, now))
}

func TestThrottleReset(t *testing.T) {
	cfg := Config{BytesPerSec: 1000, EntriesPerSec: 1000, BurstFactor: 1.0}
	th := New(cfg)
	now := time.Unix(0, 0)
	th.TrySend(1, 1000, 1, now)
	assert.False(t, th.TrySend(1, 1000, 1, now))

	th.Reset()
	assert.True(t, th.TrySend(1, 1000, 1, now))
}
