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

// Package bandwidth implements per-tenant and global bandwidth allocation
// with a choice of Strict/Shaping/Monitor enforcement (spec §4.15).
package bandwidth

// EnforcementMode selects how Allocator.Check reacts to an over-limit
// request.
type EnforcementMode int

const (
	Strict EnforcementMode = iota
	Shaping
	Monitor
)

// Config parameterizes an Allocator.
type Config struct {
	GlobalLimitBPS        uint64
	DefaultTenantLimitBPS uint64
	BurstFactor           float64
	MeasurementWindowMS   uint64
	Enforcement           EnforcementMode
}

// DefaultConfig matches the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		GlobalLimitBPS:        10_000_000_000,
		DefaultTenantLimitBPS: 1_000_000_000,
		BurstFactor:           1.5,
		MeasurementWindowMS:   1000,
		Enforcement:           Strict,
	}
}

type tenantWindow struct {
	limitBPS       uint64
	bytesInWindow  uint64
	windowStartMS  uint64
	totalBytes     uint64
	totalThrottled uint64
	totalDropped   uint64
	peakBPS        uint64
}

// Result is the outcome of an Allocator.Check call.
type Result struct {
	Kind      ResultKind
	DelayMS   uint64
	Bytes     uint64
	OverLimit bool
}

// ResultKind discriminates Result.
type ResultKind int

const (
	Allowed ResultKind = iota
	Throttled
	Dropped
	Monitored
)

// Stats is a point-in-time summary of an Allocator's counters.
type Stats struct {
	TotalRequests  uint64
	TotalAllowed   uint64
	TotalThrottled uint64
	TotalDropped   uint64
	GlobalUsageBPS uint64
	TenantCount    int
}

// Allocator enforces global and per-tenant bandwidth limits over a sliding
// measurement window. Time advances explicitly via SetTime/AdvanceTime
// rather than the wall clock, so callers (and tests) can drive it
// deterministically.
type Allocator struct {
	cfg           Config
	tenants       map[string]*tenantWindow
	tenantOrder   []string
	globalBytes   uint64
	globalStartMS uint64
	nowMS         uint64

	totalRequests  uint64
	totalAllowed   uint64
	totalThrottled uint64
	totalDropped   uint64
}

// New constructs an Allocator from cfg.
func New(cfg Config) *Allocator {
	return &Allocator{cfg: cfg, tenants: make(map[string]*tenantWindow)}
}

// SetTenantLimit sets (or creates) tenantID's bandwidth ceiling.
func (a *Allocator) SetTenantLimit(tenantID string, limitBPS uint64) {
	t, ok := a.tenants[tenantID]
	if !ok {
		t = &tenantWindow{limitBPS: limitBPS, windowStartMS: a.nowMS}
		a.tenants[tenantID] = t
		a.tenantOrder = append(a.tenantOrder, tenantID)
		return
	}
	t.limitBPS = limitBPS
}

func (a *Allocator) getOrCreateTenant(tenantID string) *tenantWindow {
	t, ok := a.tenants[tenantID]
	if ok {
		return t
	}
	t = &tenantWindow{limitBPS: a.cfg.DefaultTenantLimitBPS, windowStartMS: a.nowMS}
	a.tenants[tenantID] = t
	a.tenantOrder = append(a.tenantOrder, tenantID)
	return t
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Check evaluates whether a bytes-sized request for tenantID may proceed.
func (a *Allocator) Check(tenantID string, bytes uint64) Result {
	a.totalRequests++

	windowMS := a.cfg.MeasurementWindowMS
	if satSub(a.nowMS, a.globalStartMS) >= windowMS {
		a.globalBytes = 0
		a.globalStartMS = 0
	}

	t := a.getOrCreateTenant(tenantID)
	if satSub(a.nowMS, t.windowStartMS) >= windowMS {
		if t.windowStartMS > 0 {
			rate := t.bytesInWindow * 8 * 1000 / maxU64(t.windowStartMS, 1)
			if rate > t.peakBPS {
				t.peakBPS = rate
			}
		}
		t.bytesInWindow = 0
		t.windowStartMS = 0
	}
	if t.windowStartMS == 0 {
		t.windowStartMS = a.nowMS
	}
	if a.globalStartMS == 0 {
		a.globalStartMS = a.nowMS
	}

	var tenantRate, globalRate uint64
	if windowMS > 0 {
		tenantRate = t.bytesInWindow * 8 * 1000 / windowMS
		globalRate = a.globalBytes * 8 * 1000 / windowMS
	}

	tenantBurstLimit := uint64(float64(t.limitBPS) * a.cfg.BurstFactor)
	globalBurstLimit := uint64(float64(a.cfg.GlobalLimitBPS) * a.cfg.BurstFactor)

	tenantExceeds := tenantRate+bytes*8 > tenantBurstLimit
	globalExceeds := globalRate+bytes*8 > globalBurstLimit

	switch a.cfg.Enforcement {
	case Strict:
		if tenantExceeds || globalExceeds {
			a.totalDropped++
			t.totalDropped += bytes
			return Result{Kind: Dropped, Bytes: bytes}
		}
	case Shaping:
		tenantExcess := satSub(tenantRate+bytes*8, t.limitBPS)
		globalExcess := satSub(globalRate+bytes*8, a.cfg.GlobalLimitBPS)
		excess := tenantExcess
		if globalExcess > excess {
			excess = globalExcess
		}
		if excess > 0 {
			delayMS := excess * 1000 / maxU64(t.limitBPS, 1)
			a.totalThrottled++
			t.totalThrottled++
			return Result{Kind: Throttled, DelayMS: delayMS}
		}
	case Monitor:
		return Result{Kind: Monitored, OverLimit: tenantExceeds || globalExceeds}
	}

	t.bytesInWindow += bytes
	t.totalBytes += bytes
	a.globalBytes += bytes
	a.totalAllowed++
	return Result{Kind: Allowed}
}

// AdvanceTime moves the allocator's clock forward by ms milliseconds,
// resetting any window whose measurement period has elapsed.
func (a *Allocator) AdvanceTime(ms uint64) {
	newTime := a.nowMS + ms

	if newTime-a.globalStartMS >= a.cfg.MeasurementWindowMS {
		a.globalBytes = 0
		a.globalStartMS = newTime
	}
	for _, id := range a.tenantOrder {
		t := a.tenants[id]
		if newTime-t.windowStartMS >= a.cfg.MeasurementWindowMS {
			t.bytesInWindow = 0
			t.windowStartMS = newTime
		}
	}
	a.nowMS = newTime
}

// SetTime pins the allocator's clock to ms.
func (a *Allocator) SetTime(ms uint64) { a.nowMS = ms }

// TenantUsageBPS returns tenantID's current bandwidth usage, or 0 outside
// the active measurement window.
func (a *Allocator) TenantUsageBPS(tenantID string) uint64 {
	t, ok := a.tenants[tenantID]
	if !ok {
		return 0
	}
	if a.nowMS >= t.windowStartMS && a.nowMS-t.windowStartMS < a.cfg.MeasurementWindowMS {
		return t.bytesInWindow * 8 * 1000 / a.cfg.MeasurementWindowMS
	}
	return 0
}

// GlobalUsageBPS returns current aggregate bandwidth usage.
func (a *Allocator) GlobalUsageBPS() uint64 {
	if a.nowMS >= a.globalStartMS && a.nowMS-a.globalStartMS < a.cfg.MeasurementWindowMS {
		return a.globalBytes * 8 * 1000 / a.cfg.MeasurementWindowMS
	}
	return 0
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalRequests:  a.totalRequests,
		TotalAllowed:   a.totalAllowed,
		TotalThrottled: a.totalThrottled,
		TotalDropped:   a.totalDropped,
		GlobalUsageBPS: a.GlobalUsageBPS(),
		TenantCount:    len(a.tenants),
	}
}

// TenantCount returns the number of tenants currently tracked.
func (a *Allocator) TenantCount() int { return len(a.tenants) }

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
