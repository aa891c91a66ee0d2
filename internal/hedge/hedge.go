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

// Package hedge implements speculative request hedging to reduce tail
// latency: a duplicate request is sent to an alternate node once the
// original has run long enough, and whichever response arrives first wins
// (spec §4.14).
package hedge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirkpetersen/claudefs/clock"
)

// Config parameterizes hedging behavior.
type Config struct {
	HedgeDelay      time.Duration
	MaxExtraLoadPct uint8
	Enabled         bool
	ExcludeWrites   bool
}

// DefaultConfig matches the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		HedgeDelay:      50 * time.Millisecond,
		MaxExtraLoadPct: 5,
		Enabled:         true,
		ExcludeWrites:   true,
	}
}

// Stats is a point-in-time snapshot of hedging behavior.
type Stats struct {
	TotalRequests  uint64
	TotalHedges    uint64
	TotalHedgeWins uint64
	HedgeRate      float64
	HedgeWinRate   float64
	Enabled        bool
}

// Policy decides when a hedge request should be sent, without tracking
// individual in-flight requests.
type Policy struct {
	cfg            Config
	totalRequests  atomic.Uint64
	totalHedges    atomic.Uint64
	totalHedgeWins atomic.Uint64
}

// NewPolicy constructs a Policy from cfg.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// ShouldHedge reports whether a hedge request should be sent for a request
// that has been in flight elapsed, given whether it is a write.
func (p *Policy) ShouldHedge(elapsed time.Duration, isWrite bool) bool {
	if !p.cfg.Enabled {
		return false
	}
	if p.cfg.ExcludeWrites && isWrite {
		return false
	}
	if elapsed <= p.cfg.HedgeDelay {
		return false
	}
	if p.HedgeRate() >= float64(p.cfg.MaxExtraLoadPct)/100.0 {
		return false
	}
	return true
}

// RecordRequest counts a request being started.
func (p *Policy) RecordRequest() { p.totalRequests.Add(1) }

// RecordHedge counts a hedge request being sent.
func (p *Policy) RecordHedge() { p.totalHedges.Add(1) }

// RecordHedgeWon counts a hedge request winning the race.
func (p *Policy) RecordHedgeWon() { p.totalHedgeWins.Add(1) }

// HedgeRate returns hedges/requests, or 0 with no requests yet.
func (p *Policy) HedgeRate() float64 {
	total := p.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(p.totalHedges.Load()) / float64(total)
}

// HedgeWinRate returns wins/hedges, or 0 with no hedges yet.
func (p *Policy) HedgeWinRate() float64 {
	hedges := p.totalHedges.Load()
	if hedges == 0 {
		return 0
	}
	return float64(p.totalHedgeWins.Load()) / float64(hedges)
}

// Stats returns a snapshot of the policy's counters.
func (p *Policy) Stats() Stats {
	return Stats{
		TotalRequests:  p.totalRequests.Load(),
		TotalHedges:    p.totalHedges.Load(),
		TotalHedgeWins: p.totalHedgeWins.Load(),
		HedgeRate:      p.HedgeRate(),
		HedgeWinRate:   p.HedgeWinRate(),
		Enabled:        p.cfg.Enabled,
	}
}

// Reset zeroes every counter.
func (p *Policy) Reset() {
	p.totalRequests.Store(0)
	p.totalHedges.Store(0)
	p.totalHedgeWins.Store(0)
}

// Tracker manages in-flight requests and decides hedge timing per request
// ID, using clock for deterministic elapsed-time computation in tests.
type Tracker struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	requests map[uint64]time.Time

	totalRequests  atomic.Uint64
	totalHedges    atomic.Uint64
	totalHedgeWins atomic.Uint64
}

// NewTracker constructs a Tracker from cfg, using c to read the current
// time.
func NewTracker(cfg Config, c clock.Clock) *Tracker {
	return &Tracker{cfg: cfg, clock: c, requests: make(map[uint64]time.Time)}
}

// StartRequest records the start of a tracked request.
func (t *Tracker) StartRequest(requestID uint64) {
	t.totalRequests.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[requestID] = t.clock.Now()
}

// CheckHedge reports whether a hedge request should now be sent for
// requestID, and if so counts it against the hedge budget.
func (t *Tracker) CheckHedge(requestID uint64) bool {
	if !t.cfg.Enabled {
		return false
	}

	t.mu.Lock()
	start, ok := t.requests[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}

	elapsed := t.clock.Now().Sub(start)
	if elapsed <= t.cfg.HedgeDelay {
		return false
	}

	total := t.totalRequests.Load()
	hedges := t.totalHedges.Load()
	currentRate := 0.0
	if total != 0 {
		currentRate = float64(hedges) / float64(total)
	}
	if currentRate >= float64(t.cfg.MaxExtraLoadPct)/100.0 {
		return false
	}

	t.totalHedges.Add(1)
	return true
}

// CompleteRequest stops tracking requestID. wasHedgeWinner counts a hedge
// win when true.
func (t *Tracker) CompleteRequest(requestID uint64, wasHedgeWinner bool) {
	t.mu.Lock()
	delete(t.requests, requestID)
	t.mu.Unlock()

	if wasHedgeWinner {
		t.totalHedgeWins.Add(1)
	}
}

// ActiveCount returns the number of requests currently tracked.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Stats returns a snapshot of the tracker's counters.
func (t *Tracker) Stats() Stats {
	total := t.totalRequests.Load()
	hedges := t.totalHedges.Load()
	wins := t.totalHedgeWins.Load()

	hedgeRate, winRate := 0.0, 0.0
	if total != 0 {
		hedgeRate = float64(hedges) / float64(total)
	}
	if hedges != 0 {
		winRate = float64(wins) / float64(hedges)
	}

	return Stats{
		TotalRequests:  total,
		TotalHedges:    hedges,
		TotalHedgeWins: wins,
		HedgeRate:      hedgeRate,
		HedgeWinRate:   winRate,
		Enabled:        t.cfg.Enabled,
	}
}
