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

package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistogramNewIsEmpty(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, 0, h.Count())
}

func TestHistogramRecordAndCount(t *testing.T) {
	h := NewHistogram()
	h.Record(100)
	h.Record(200)
	h.Record(300)
	assert.Equal(t, 3, h.Count())
}

func TestHistogramPercentileP0(t *testing.T) {
	h := NewHistogram()
	for _, v := range []uint64{100, 200, 300, 400, 500} {
		h.Record(v)
	}
	assert.Equal(t, uint64(100), h.Percentile(0.0))
}

func TestHistogramPercentileP50(t *testing.T) {
	h := NewHistogram()
	for _, v := range []uint64{100, 200, 300, 400, 500} {
		h.Record(v)
	}
	assert.Equal(t, uint64(300), h.Percentile(50.0))
}

func TestHistogramPercentileP99(t *testing.T) {
	h := NewHistogram()
	for i := uint64(1); i <= 100; i++ {
		h.Record(i * 100)
	}
	assert.Equal(t, uint64(10000), h.Percentile(99.0))
}

func TestHistogramPercentileEmpty(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, uint64(0), h.Percentile(50.0))
}

func TestHistogramMeanUS(t *testing.T) {
	h := NewHistogram()
	h.Record(100)
	h.Record(200)
	h.Record(300)
	assert.InDelta(t, 200.0, h.MeanUS(), 0.001)
}

func TestHistogramMeanUSEmpty(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, 0.0, h.MeanUS())
}

func TestHistogramWrapsAtCapacity(t *testing.T) {
	h := NewHistogram()
	for i := 0; i < maxHistogramCapacity+1000; i++ {
		h.Record(uint64(i))
	}
	assert.Equal(t, maxHistogramCapacity, h.Count())
}

func TestHistogramSingleSamplePercentile(t *testing.T) {
	h := NewHistogram()
	h.Record(500)
	assert.Equal(t, uint64(500), h.Percentile(0.0))
	assert.Equal(t, uint64(500), h.Percentile(50.0))
	assert.Equal(t, uint64(500), h.Percentile(100.0))
}

func TestTrackerNewHasNoHistograms(t *testing.T) {
	tr := NewTracker()
	assert.Nil(t, tr.HistogramFor(OpRead))
}

func TestRecordSampleStoresInCorrectHistogram(t *testing.T) {
	tr := NewTracker()
	tr.RecordSample(LatencySample{Op: OpRead, LatencyUS: 500, TimestampNS: 1000, NodeID: "node1"})
	h := tr.HistogramFor(OpRead)
	assert.NotNil(t, h)
	assert.Equal(t, 1, h.Count())
	assert.Equal(t, uint64(500), h.Percentile(50.0))
}

func TestRecordSampleMultipleOps(t *testing.T) {
	tr := NewTracker()
	tr.RecordSample(LatencySample{Op: OpRead, LatencyUS: 100})
	tr.RecordSample(LatencySample{Op: OpWrite, LatencyUS: 200})
	assert.Equal(t, 1, tr.HistogramFor(OpRead).Count())
	assert.Equal(t, 1, tr.HistogramFor(OpWrite).Count())
}

func TestSetThresholdUpdatesExisting(t *testing.T) {
	tr := NewTracker()
	tr.SetThreshold(SLAThreshold{Op: OpRead, P99TargetUS: 1000, P50TargetUS: 500})
	tr.SetThreshold(SLAThreshold{Op: OpRead, P99TargetUS: 2000, P50TargetUS: 1000})
	require := assert.New(t)
	require.Len(tr.thresholds, 1)
	require.Equal(uint64(2000), tr.thresholds[0].P99TargetUS)
}

func TestCheckViolationsDetectsP99Breach(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 100; i++ {
		tr.RecordSample(LatencySample{Op: OpRead, LatencyUS: 2000})
	}
	tr.SetThreshold(SLAThreshold{Op: OpRead, P99TargetUS: 1000, P50TargetUS: 500})

	violations := tr.CheckViolations(1000)
	found := false
	for _, v := range violations {
		if v.Percentile == 99 && v.MeasuredUS > 1000 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheckViolationsDetectsP50Breach(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 100; i++ {
		tr.RecordSample(LatencySample{Op: OpWrite, LatencyUS: 1500})
	}
	tr.SetThreshold(SLAThreshold{Op: OpWrite, P99TargetUS: 5000, P50TargetUS: 500})

	violations := tr.CheckViolations(1000)
	found := false
	for _, v := range violations {
		if v.Percentile == 50 && v.MeasuredUS > 500 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheckViolationsEmptyWhenUnderThreshold(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 100; i++ {
		tr.RecordSample(LatencySample{Op: OpStat, LatencyUS: 100})
	}
	tr.SetThreshold(SLAThreshold{Op: OpStat, P99TargetUS: 1000, P50TargetUS: 500})
	assert.Empty(t, tr.CheckViolations(1000))
}

func TestP99USConvenience(t *testing.T) {
	tr := NewTracker()
	for i := uint64(1); i <= 100; i++ {
		tr.RecordSample(LatencySample{Op: OpRead, LatencyUS: i * 100})
	}
	assert.Equal(t, uint64(10000), tr.P99US(OpRead))
}

func TestP50USReturnsZeroWhenNoData(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, uint64(0), tr.P50US(OpWrite))
}

func TestHistogramForReturnsNilForMissingOp(t *testing.T) {
	tr := NewTracker()
	assert.Nil(t, tr.HistogramFor(OpRead))
}
