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
	"sync"
	"time"
)

// Config parameterizes a per-peer Throttle's two token buckets.
type Config struct {
	BytesPerSec   uint64
	EntriesPerSec uint64
	BurstFactor   float64
}

// DefaultConfig is a conservative per-peer send budget.
func DefaultConfig() Config {
	return Config{BytesPerSec: 100_000_000, EntriesPerSec: 100_000, BurstFactor: 1.5}
}

type tokenBucket struct {
	tokens      float64
	maxTokens   float64
	refillPerMS float64
	lastMS      int64
	seeded      bool
}

func newTokenBucket(perSec uint64, burst float64) *tokenBucket {
	max := float64(perSec) * burst
	return &tokenBucket{tokens: max, maxTokens: max, refillPerMS: float64(perSec) / 1000.0}
}

func (b *tokenBucket) refill(nowMS int64) {
	if !b.seeded {
		b.lastMS = nowMS
		b.seeded = true
		return
	}
	elapsed := nowMS - b.lastMS
	if elapsed <= 0 {
		return
	}
	b.tokens += float64(elapsed) * b.refillPerMS
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastMS = nowMS
}

func (b *tokenBucket) tryConsume(nowMS int64, amount float64) bool {
	b.refill(nowMS)
	if b.tokens < amount {
		return false
	}
	b.tokens -= amount
	return true
}

// Throttle is a per-peer token bucket on both bytes and entries per
// second; a send is admitted only if both buckets have sufficient tokens.
type Throttle struct {
	mu      sync.Mutex
	cfg     Config
	byBytes map[uint64]*tokenBucket
	byEntry map[uint64]*tokenBucket
}

// New constructs a Throttle from cfg.
func New(cfg Config) *Throttle {
	return &Throttle{cfg: cfg, byBytes: make(map[uint64]*tokenBucket), byEntry: make(map[uint64]*tokenBucket)}
}

func (t *Throttle) bucketsFor(siteID uint64) (*tokenBucket, *tokenBucket) {
	bb, ok := t.byBytes[siteID]
	if !ok {
		bb = newTokenBucket(t.cfg.BytesPerSec, t.cfg.BurstFactor)
		t.byBytes[siteID] = bb
	}
	be, ok := t.byEntry[siteID]
	if !ok {
		be = newTokenBucket(t.cfg.EntriesPerSec, t.cfg.BurstFactor)
		t.byEntry[siteID] = be
	}
	return bb, be
}

// TrySend reports whether siteID's byte and entry budgets both admit a
// send of bytes/entries at now. On denial, neither bucket is debited.
func (t *Throttle) TrySend(siteID uint64, bytes, entries uint64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	bb, be := t.bucketsFor(siteID)
	nowMS := now.UnixMilli()
	bb.refill(nowMS)
	be.refill(nowMS)

	if bb.tokens < float64(bytes) || be.tokens < float64(entries) {
		return false
	}
	bb.tokens -= float64(bytes)
	be.tokens -= float64(entries)
	return true
}

// Reset discards every peer's bucket state.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byBytes = make(map[uint64]*tokenBucket)
	t.byEntry = make(map[uint64]*tokenBucket)
}
