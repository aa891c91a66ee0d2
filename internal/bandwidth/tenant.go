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

package bandwidth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirkpetersen/claudefs/clock"
)

// TenantConfig sets hard bandwidth and IOPS ceilings for one tenant.
type TenantConfig struct {
	TenantID        string
	Name            string
	MinBandwidthBPS uint64
	MaxBandwidthBPS uint64
	MinIOPS         uint64
	MaxIOPS         uint64
	Weight          uint32
}

// DefaultTenantConfig returns the original implementation's default
// ceilings for the named tenant.
func DefaultTenantConfig(tenantID, name string) TenantConfig {
	return TenantConfig{
		TenantID:        tenantID,
		Name:            name,
		MinBandwidthBPS: 10_485_760,
		MaxBandwidthBPS: 104_857_600,
		MinIOPS:         1000,
		MaxIOPS:         10000,
		Weight:          100,
	}
}

// TenantStats is a point-in-time view of one tenant's usage.
type TenantStats struct {
	TenantID         string
	Name             string
	CurrentBandwidth uint64
	CurrentIOPS      uint64
	TotalBytes       uint64
	TotalOps         uint64
	TotalThrottled   uint64
	IsThrottled      bool
}

// TenantTracker enforces one tenant's hard ceilings over a rolling
// one-second window, keyed off clock rather than the wall clock so tests
// can drive it deterministically.
type TenantTracker struct {
	cfg   TenantConfig
	clock clock.Clock

	mu          sync.Mutex
	windowStart time.Time

	bytesThisWindow atomic.Uint64
	opsThisWindow   atomic.Uint64
	totalBytes      atomic.Uint64
	totalOps        atomic.Uint64
	totalThrottled  atomic.Uint64
}

// NewTenantTracker constructs a TenantTracker from cfg.
func NewTenantTracker(cfg TenantConfig, c clock.Clock) *TenantTracker {
	return &TenantTracker{cfg: cfg, clock: c, windowStart: c.Now()}
}

func (t *TenantTracker) checkAndAdvanceWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clock.Now().Sub(t.windowStart) >= time.Second {
		t.windowStart = t.clock.Now()
		t.bytesThisWindow.Store(0)
		t.opsThisWindow.Store(0)
	}
}

// RecordIO unconditionally accounts bytes against the tenant's window.
func (t *TenantTracker) RecordIO(bytes uint64) {
	t.checkAndAdvanceWindow()
	t.bytesThisWindow.Add(bytes)
	t.opsThisWindow.Add(1)
	t.totalBytes.Add(bytes)
	t.totalOps.Add(1)
}

// TryAdmit admits a bytes-sized request iff it would not push the tenant
// over its bandwidth or IOPS ceiling for the current window.
func (t *TenantTracker) TryAdmit(bytes uint64) bool {
	t.checkAndAdvanceWindow()
	curBytes := t.bytesThisWindow.Load()
	curOps := t.opsThisWindow.Load()

	if curBytes+bytes > t.cfg.MaxBandwidthBPS || curOps+1 > t.cfg.MaxIOPS {
		t.totalThrottled.Add(1)
		return false
	}
	t.bytesThisWindow.Add(bytes)
	t.opsThisWindow.Add(1)
	t.totalBytes.Add(bytes)
	t.totalOps.Add(1)
	return true
}

// CurrentBandwidth returns bytes consumed in the active window.
func (t *TenantTracker) CurrentBandwidth() uint64 {
	t.checkAndAdvanceWindow()
	return t.bytesThisWindow.Load()
}

// CurrentIOPS returns operations issued in the active window.
func (t *TenantTracker) CurrentIOPS() uint64 {
	t.checkAndAdvanceWindow()
	return t.opsThisWindow.Load()
}

// IsThrottled reports whether the tenant is currently at or above either
// ceiling.
func (t *TenantTracker) IsThrottled() bool {
	return t.CurrentBandwidth() >= t.cfg.MaxBandwidthBPS || t.CurrentIOPS() >= t.cfg.MaxIOPS
}

// Stats returns a snapshot of the tracker's counters.
func (t *TenantTracker) Stats() TenantStats {
	return TenantStats{
		TenantID:         t.cfg.TenantID,
		Name:             t.cfg.Name,
		CurrentBandwidth: t.CurrentBandwidth(),
		CurrentIOPS:      t.CurrentIOPS(),
		TotalBytes:       t.totalBytes.Load(),
		TotalOps:         t.totalOps.Load(),
		TotalThrottled:   t.totalThrottled.Load(),
		IsThrottled:      t.IsThrottled(),
	}
}

// Reset clears the current window's counters.
func (t *TenantTracker) Reset() {
	t.mu.Lock()
	t.windowStart = t.clock.Now()
	t.mu.Unlock()
	t.bytesThisWindow.Store(0)
	t.opsThisWindow.Store(0)
}

// AdmitResult is the outcome of a TenantManager.TryAdmit call.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	AdmitThrottled
	UnknownTenant
)

// TenantManager layers per-tenant hard ceilings atop shared infrastructure,
// admitting or rejecting I/O requests by tenant.
type TenantManager struct {
	clock clock.Clock

	mu      sync.Mutex
	tenants map[string]*TenantTracker
}

// NewTenantManager constructs an empty TenantManager.
func NewTenantManager(c clock.Clock) *TenantManager {
	return &TenantManager{clock: c, tenants: make(map[string]*TenantTracker)}
}

// AddTenant registers a tenant with the given ceilings.
func (m *TenantManager) AddTenant(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[cfg.TenantID] = NewTenantTracker(cfg, m.clock)
}

// RemoveTenant forgets a tenant and its usage history.
func (m *TenantManager) RemoveTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
}

// TryAdmit admits a request for tenantID, or reports it unknown.
func (m *TenantManager) TryAdmit(tenantID string, bytes uint64) AdmitResult {
	m.mu.Lock()
	tracker, ok := m.tenants[tenantID]
	m.mu.Unlock()
	if !ok {
		return UnknownTenant
	}
	if tracker.TryAdmit(bytes) {
		return Admitted
	}
	return AdmitThrottled
}

// GetStats returns tenantID's usage snapshot, if known.
func (m *TenantManager) GetStats(tenantID string) (TenantStats, bool) {
	m.mu.Lock()
	tracker, ok := m.tenants[tenantID]
	m.mu.Unlock()
	if !ok {
		return TenantStats{}, false
	}
	return tracker.Stats(), true
}

// AllStats returns usage snapshots for every registered tenant.
func (m *TenantManager) AllStats() []TenantStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]TenantStats, 0, len(m.tenants))
	for _, tracker := range m.tenants {
		stats = append(stats, tracker.Stats())
	}
	return stats
}

// TenantCount returns the number of registered tenants.
func (m *TenantManager) TenantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tenants)
}

// TotalBandwidth sums current-window bandwidth usage across all tenants.
func (m *TenantManager) TotalBandwidth() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, tracker := range m.tenants {
		total += tracker.CurrentBandwidth()
	}
	return total
}
