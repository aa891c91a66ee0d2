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
	"context"
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/logger"
)

// LagSLA holds the three severity thresholds for replication lag, in
// milliseconds (§4.11).
type LagSLA struct {
	WarnThresholdMS     uint64
	CriticalThresholdMS uint64
	MaxAcceptableMS     uint64
}

// DefaultLagSLA matches the original implementation's defaults.
func DefaultLagSLA() LagSLA {
	return LagSLA{WarnThresholdMS: 100, CriticalThresholdMS: 500, MaxAcceptableMS: 2000}
}

// LagStatus classifies a single lag measurement against a LagSLA.
type LagStatus uint8

const (
	LagOK LagStatus = iota
	LagWarning
	LagCritical
	LagExceeded
)

func (s LagStatus) String() string {
	switch s {
	case LagOK:
		return "ok"
	case LagWarning:
		return "warning"
	case LagCritical:
		return "critical"
	case LagExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

func classify(sla LagSLA, lagMS uint64) LagStatus {
	switch {
	case lagMS >= sla.MaxAcceptableMS:
		return LagExceeded
	case lagMS >= sla.CriticalThresholdMS:
		return LagCritical
	case lagMS >= sla.WarnThresholdMS:
		return LagWarning
	default:
		return LagOK
	}
}

// LagSample is one measurement of replication lag for a site.
type LagSample struct {
	SiteID    string
	LagMS     uint64
	Timestamp int64
}

// LagStats aggregates statistics across every recorded sample.
type LagStats struct {
	SampleCount   uint64
	AvgLagMS      float64
	MaxLagMS      uint64
	WarningCount  uint64
	CriticalCount uint64
}

// LagMonitor tracks replication lag per site against an SLA and maintains
// aggregate statistics (§4.11). Internally synchronized.
type LagMonitor struct {
	mu sync.Mutex

	sla     LagSLA
	clock   clock.Clock
	samples []LagSample
	stats   LagStats
}

// NewLagMonitor constructs a LagMonitor against sla.
func NewLagMonitor(sla LagSLA, c clock.Clock) *LagMonitor {
	return &LagMonitor{sla: sla, clock: c}
}

// RecordSample records a lag measurement for siteID and returns the
// resulting status, updating aggregate statistics and logging at an
// appropriate level when a threshold is crossed.
func (m *LagMonitor) RecordSample(ctx context.Context, siteID string, lagMS uint64) LagStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, LagSample{
		SiteID:    siteID,
		LagMS:     lagMS,
		Timestamp: m.clock.Now().UnixMilli(),
	})

	m.stats.SampleCount++
	if m.stats.SampleCount == 1 {
		m.stats.AvgLagMS = float64(lagMS)
	} else {
		prevTotal := m.stats.AvgLagMS * float64(m.stats.SampleCount-1)
		m.stats.AvgLagMS = (prevTotal + float64(lagMS)) / float64(m.stats.SampleCount)
	}
	if lagMS > m.stats.MaxLagMS {
		m.stats.MaxLagMS = lagMS
	}

	status := classify(m.sla, lagMS)
	switch status {
	case LagExceeded:
		m.stats.CriticalCount++
		logger.Warnf(ctx, "site %s lag %dms exceeded max acceptable %dms", siteID, lagMS, m.sla.MaxAcceptableMS)
	case LagCritical:
		m.stats.CriticalCount++
		logger.Warnf(ctx, "site %s lag %dms is critical (threshold %dms)", siteID, lagMS, m.sla.CriticalThresholdMS)
	case LagWarning:
		m.stats.WarningCount++
		logger.Infof(ctx, "site %s lag %dms is warning level (threshold %dms)", siteID, lagMS, m.sla.WarnThresholdMS)
	}

	return status
}

// StatusFor returns the status derived from the most recent sample for
// siteID, or LagOK if none exists.
func (m *LagMonitor) StatusFor(siteID string) LagStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.samples) - 1; i >= 0; i-- {
		if m.samples[i].SiteID == siteID {
			return classify(m.sla, m.samples[i].LagMS)
		}
	}
	return LagOK
}

// Stats returns a snapshot of the aggregate statistics.
func (m *LagMonitor) Stats() LagStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ClearSamples discards every recorded sample and resets aggregate
// statistics.
func (m *LagMonitor) ClearSamples() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.stats = LagStats{}
}
