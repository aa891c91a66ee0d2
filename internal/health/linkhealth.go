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

package health

import (
	"sort"
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
)

// LinkStatus is the health state of one replication link.
type LinkStatus uint8

const (
	LinkHealthy LinkStatus = iota
	LinkDegraded
	LinkDisconnected
	LinkCritical
)

func (s LinkStatus) String() string {
	switch s {
	case LinkHealthy:
		return "healthy"
	case LinkDegraded:
		return "degraded"
	case LinkDisconnected:
		return "disconnected"
	case LinkCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClusterStatus is the aggregate health across all registered links.
type ClusterStatus uint8

const (
	ClusterHealthy ClusterStatus = iota
	ClusterDegraded
	ClusterCritical
	ClusterNotConfigured
)

func (s ClusterStatus) String() string {
	switch s {
	case ClusterHealthy:
		return "healthy"
	case ClusterDegraded:
		return "degraded"
	case ClusterCritical:
		return "critical"
	case ClusterNotConfigured:
		return "not-configured"
	default:
		return "unknown"
	}
}

// Thresholds determines link health classification (§4.11).
type Thresholds struct {
	DegradedLagEntries uint64
	CriticalLagEntries uint64
	DisconnectedErrors uint32
	// FailureBurstWindowSecs bounds the sliding window RecordError uses to
	// count recent failures, independent of consecutive-error tracking
	// (a site that recovers between errors never trips DisconnectedErrors
	// but can still be thrashing). 0 disables burst tracking.
	FailureBurstWindowSecs uint64
	FailureBurstThreshold  uint32
}

// DefaultThresholds matches the original implementation's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedLagEntries:     1000,
		CriticalLagEntries:     100_000,
		DisconnectedErrors:     5,
		FailureBurstWindowSecs: 60,
		FailureBurstThreshold:  10,
	}
}

// LinkReport is the point-in-time health of one site's replication link.
type LinkReport struct {
	SiteID                uint64
	SiteName              string
	Status                LinkStatus
	LastSuccessfulBatchUS int64
	HasLastSuccess        bool
	EntriesBehind         uint64
	ConsecutiveErrors     uint32
	FailureBurstCount     uint32
}

type siteState struct {
	consecutiveErrors     uint32
	lastSuccessfulBatchUS int64
	hasLastSuccess        bool
	entriesBehind         uint64
	siteName              string
	errorTimestampsUS     []int64
}

// Monitor tracks per-link health and derives cluster-wide status (§4.11).
// Internally synchronized.
type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	sites      map[uint64]*siteState
	clk        clock.Clock
}

// NewMonitor constructs an empty Monitor using the real wall clock for
// failure-burst timestamps.
func NewMonitor(thresholds Thresholds) *Monitor {
	return NewMonitorWithClock(thresholds, clock.RealClock{})
}

// NewMonitorWithClock constructs an empty Monitor using clk for
// failure-burst timestamps, for deterministic tests.
func NewMonitorWithClock(thresholds Thresholds, clk clock.Clock) *Monitor {
	return &Monitor{thresholds: thresholds, sites: make(map[uint64]*siteState), clk: clk}
}

// RegisterSite begins tracking siteID, replacing any existing state for it.
func (m *Monitor) RegisterSite(siteID uint64, siteName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[siteID] = &siteState{siteName: siteName}
}

// RecordSuccess records a successful batch exchange with siteID.
func (m *Monitor) RecordSuccess(siteID uint64, entriesBehind uint64, timestampUS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[siteID]
	if !ok {
		return
	}
	s.consecutiveErrors = 0
	s.lastSuccessfulBatchUS = timestampUS
	s.hasLastSuccess = true
	s.entriesBehind = entriesBehind
}

// RecordError records a failed batch exchange with siteID, bumping its
// consecutive-error count and appending to its failure-burst window.
func (m *Monitor) RecordError(siteID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[siteID]
	if !ok {
		return
	}
	s.consecutiveErrors++

	if m.thresholds.FailureBurstWindowSecs == 0 {
		return
	}
	nowUS := m.clk.Now().UnixMicro()
	s.errorTimestampsUS = append(s.errorTimestampsUS, nowUS)
	s.errorTimestampsUS = trimBurstWindow(s.errorTimestampsUS, nowUS, m.thresholds.FailureBurstWindowSecs)
}

func trimBurstWindow(timestampsUS []int64, nowUS int64, windowSecs uint64) []int64 {
	cutoff := nowUS - int64(windowSecs)*1_000_000
	kept := timestampsUS[:0]
	for _, t := range timestampsUS {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	return kept
}

func (m *Monitor) failureBurstCount(s *siteState) uint32 {
	if m.thresholds.FailureBurstWindowSecs == 0 {
		return 0
	}
	nowUS := m.clk.Now().UnixMicro()
	s.errorTimestampsUS = trimBurstWindow(s.errorTimestampsUS, nowUS, m.thresholds.FailureBurstWindowSecs)
	return uint32(len(s.errorTimestampsUS))
}

func (m *Monitor) computeStatus(s *siteState) LinkStatus {
	burstCount := m.failureBurstCount(s)
	switch {
	case s.consecutiveErrors >= m.thresholds.DisconnectedErrors:
		return LinkDisconnected
	case s.entriesBehind >= m.thresholds.CriticalLagEntries:
		return LinkCritical
	case m.thresholds.FailureBurstThreshold > 0 && burstCount >= m.thresholds.FailureBurstThreshold:
		return LinkCritical
	case s.entriesBehind >= m.thresholds.DegradedLagEntries:
		return LinkDegraded
	default:
		return LinkHealthy
	}
}

func (m *Monitor) reportLocked(siteID uint64, s *siteState) LinkReport {
	return LinkReport{
		SiteID:                siteID,
		SiteName:              s.siteName,
		Status:                m.computeStatus(s),
		LastSuccessfulBatchUS: s.lastSuccessfulBatchUS,
		HasLastSuccess:        s.hasLastSuccess,
		EntriesBehind:         s.entriesBehind,
		ConsecutiveErrors:     s.consecutiveErrors,
		FailureBurstCount:     m.failureBurstCount(s),
	}
}

// SiteHealth returns the health report for siteID, or (_, false) if it was
// never registered.
func (m *Monitor) SiteHealth(siteID uint64) (LinkReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[siteID]
	if !ok {
		return LinkReport{}, false
	}
	return m.reportLocked(siteID, s), true
}

// AllSiteHealth returns every registered link's health report, ordered by
// site ID.
func (m *Monitor) AllSiteHealth() []LinkReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]LinkReport, 0, len(m.sites))
	for id, s := range m.sites {
		reports = append(reports, m.reportLocked(id, s))
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].SiteID < reports[j].SiteID })
	return reports
}

// ClusterHealth aggregates every registered link into one cluster-wide
// status: Critical if more than half the links are Critical, or more than
// half are Disconnected (the two counts are not added together); Degraded
// if any link is non-healthy; NotConfigured if no
// links are registered; else Healthy.
func (m *Monitor) ClusterHealth() ClusterStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sites) == 0 {
		return ClusterNotConfigured
	}

	var degraded, critical, disconnected int
	for _, s := range m.sites {
		switch m.computeStatus(s) {
		case LinkDegraded:
			degraded++
		case LinkDisconnected:
			disconnected++
		case LinkCritical:
			critical++
		}
	}

	total := len(m.sites)
	switch {
	case critical > total/2 || disconnected > total/2:
		return ClusterCritical
	case degraded > 0 || critical > 0 || disconnected > 0:
		return ClusterDegraded
	default:
		return ClusterHealthy
	}
}

// ResetSite clears siteID's error count and lag, leaving it registered.
func (m *Monitor) ResetSite(siteID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sites[siteID]; ok {
		s.consecutiveErrors = 0
		s.entriesBehind = 0
		s.errorTimestampsUS = nil
	}
}

// RemoveSite stops tracking siteID entirely.
func (m *Monitor) RemoveSite(siteID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sites, siteID)
}
