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

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dirkpetersen/claudefs/internal/health"
	"github.com/dirkpetersen/claudefs/internal/ratelimit"
	"github.com/dirkpetersen/claudefs/internal/replication"
)

func setupRecorder(t *testing.T) (*Recorder, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	origProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(origProvider) })

	r, err := NewRecorder()
	require.NoError(t, err)
	return r, reader
}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordBatchIncrementsCounters(t *testing.T) {
	ctx := context.Background()
	r, reader := setupRecorder(t)

	r.RecordBatch(ctx, 2, replication.Stats{
		BatchesDispatched:   3,
		TotalEntriesSent:    42,
		BytesBeforeCompress: 1000,
		BytesAfterCompress:  400,
		ThrottleStalls:      1,
		FanoutFailures:      0,
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(3), sumCounter(t, rm, "replication/batches_dispatched"))
	assert.Equal(t, int64(42), sumCounter(t, rm, "replication/entries_sent"))
	assert.Equal(t, int64(1000), sumCounter(t, rm, "replication/bytes_before_compress"))
	assert.Equal(t, int64(400), sumCounter(t, rm, "replication/bytes_after_compress"))
}

func TestRecordAuthAttemptIncrementsByDecision(t *testing.T) {
	ctx := context.Background()
	r, reader := setupRecorder(t)

	r.RecordAuthAttempt(ctx, ratelimit.SiteID(5), ratelimit.AuthResult{Decision: ratelimit.AuthBlocked})
	r.RecordAuthAttempt(ctx, ratelimit.SiteID(5), ratelimit.AuthResult{Decision: ratelimit.AuthAllowed})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumCounter(t, rm, "auth/attempt_decisions"))
}

func TestRegisterHealthGaugesReportsSiteStatus(t *testing.T) {
	ctx := context.Background()
	r, reader := setupRecorder(t)

	m := health.NewMonitor(health.DefaultThresholds())
	m.RegisterSite(7, "site7")
	m.RecordSuccess(7, 100, 1_000_000)

	shutdown, err := r.RegisterHealthGauges(m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "health/link_status" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
