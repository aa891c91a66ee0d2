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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dirkpetersen/claudefs/clock"
)

func TestLagSLADefault(t *testing.T) {
	sla := DefaultLagSLA()
	assert.Equal(t, uint64(100), sla.WarnThresholdMS)
	assert.Equal(t, uint64(500), sla.CriticalThresholdMS)
	assert.Equal(t, uint64(2000), sla.MaxAcceptableMS)
}

func newMonitor() *LagMonitor {
	return NewLagMonitor(DefaultLagSLA(), clock.NewSimulatedClock(time.Unix(0, 0)))
}

func TestRecordSampleOK(t *testing.T) {
	m := newMonitor()
	status := m.RecordSample(context.Background(), "site2", 50)
	assert.Equal(t, LagOK, status)
}

func TestRecordSampleWarning(t *testing.T) {
	m := newMonitor()
	status := m.RecordSample(context.Background(), "site2", 150)
	assert.Equal(t, LagWarning, status)
}

func TestRecordSampleCritical(t *testing.T) {
	m := newMonitor()
	status := m.RecordSample(context.Background(), "site2", 600)
	assert.Equal(t, LagCritical, status)
}

func TestRecordSampleExceeded(t *testing.T) {
	m := newMonitor()
	status := m.RecordSample(context.Background(), "site2", 3000)
	assert.Equal(t, LagExceeded, status)
}

func TestStatusForUsesMostRecentSample(t *testing.T) {
	m := newMonitor()
	ctx := context.Background()
	m.RecordSample(ctx, "site2", 50)
	m.RecordSample(ctx, "site2", 600)

	assert.Equal(t, LagCritical, m.StatusFor("site2"))
}

func TestStatusForUnknownSiteIsOK(t *testing.T) {
	m := newMonitor()
	assert.Equal(t, LagOK, m.StatusFor("unknown"))
}

func TestStatsAggregation(t *testing.T) {
	m := newMonitor()
	ctx := context.Background()
	m.RecordSample(ctx, "site2", 100)
	m.RecordSample(ctx, "site2", 300)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.SampleCount)
	assert.Equal(t, 200.0, stats.AvgLagMS)
	assert.Equal(t, uint64(300), stats.MaxLagMS)
}

func TestClearSamplesResetsStats(t *testing.T) {
	m := newMonitor()
	m.RecordSample(context.Background(), "site2", 100)
	m.ClearSamples()

	stats := m.Stats()
	assert.Equal(t, uint64(0), stats.SampleCount)
	assert.Equal(t, LagOK, m.StatusFor("site2"))
}

func TestWarningAndCriticalCounts(t *testing.T) {
	m := newMonitor()
	ctx := context.Background()
	m.RecordSample(ctx, "site2", 150)
	m.RecordSample(ctx, "site2", 600)
	m.RecordSample(ctx, "site2", 3000)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.WarningCount)
	assert.Equal(t, uint64(2), stats.CriticalCount)
}
