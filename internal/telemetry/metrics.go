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
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dirkpetersen/claudefs/internal/health"
	"github.com/dirkpetersen/claudefs/internal/perf"
	"github.com/dirkpetersen/claudefs/internal/ratelimit"
	"github.com/dirkpetersen/claudefs/internal/replication"
)

const (
	siteKey   = "site_id"
	opKey     = "op"
	resultKey = "result"
)

var (
	replMeter   = otel.Meter("claudefs/replication")
	authMeter   = otel.Meter("claudefs/auth")
	healthMeter = otel.Meter("claudefs/health")
	perfMeter   = otel.Meter("claudefs/perf")
)

var siteAttrSets sync.Map

func siteAttrSet(siteID uint64) metric.MeasurementOption {
	if v, ok := siteAttrSets.Load(siteID); ok {
		return v.(metric.MeasurementOption)
	}
	v, _ := siteAttrSets.LoadOrStore(siteID, metric.WithAttributeSet(attribute.NewSet(attribute.Int64(siteKey, int64(siteID)))))
	return v.(metric.MeasurementOption)
}

// Recorder wraps the otel instruments a claudefsd process reports: batch
// throughput and compression ratio for replication, auth/lockout decisions,
// per-link health, and SLA violations, in the teacher's
// counter/histogram-per-concern layout (common/otel_metrics.go).
type Recorder struct {
	batchesDispatched metric.Int64Counter
	entriesSent       metric.Int64Counter
	bytesBeforeComp   metric.Int64Counter
	bytesAfterComp    metric.Int64Counter
	throttleStalls    metric.Int64Counter
	fanoutFailures    metric.Int64Counter

	authDecisions  metric.Int64Counter
	batchDecisions metric.Int64Counter

	slaViolations metric.Int64Counter
}

// NewRecorder constructs every instrument Recorder exposes, under the
// current global MeterProvider (install one with Setup first).
func NewRecorder() (*Recorder, error) {
	batchesDispatched, err1 := replMeter.Int64Counter("replication/batches_dispatched",
		metric.WithDescription("Cumulative replication batches sent to peers."))
	entriesSent, err2 := replMeter.Int64Counter("replication/entries_sent",
		metric.WithDescription("Cumulative journal entries sent to peers."))
	bytesBeforeComp, err3 := replMeter.Int64Counter("replication/bytes_before_compress",
		metric.WithDescription("Payload bytes before zstd compression."), metric.WithUnit("By"))
	bytesAfterComp, err4 := replMeter.Int64Counter("replication/bytes_after_compress",
		metric.WithDescription("Payload bytes after zstd compression."), metric.WithUnit("By"))
	throttleStalls, err5 := replMeter.Int64Counter("replication/throttle_stalls",
		metric.WithDescription("Batches refused by the per-peer send throttle."))
	fanoutFailures, err6 := replMeter.Int64Counter("replication/fanout_failures",
		metric.WithDescription("Per-peer batch sends that failed during fanout."))

	authDecisions, err7 := authMeter.Int64Counter("auth/attempt_decisions",
		metric.WithDescription("Auth attempt admission decisions by result."))
	batchDecisions, err8 := authMeter.Int64Counter("auth/batch_decisions",
		metric.WithDescription("Batch-send admission decisions by result."))

	slaViolations, err9 := perfMeter.Int64Counter("perf/sla_violations",
		metric.WithDescription("Latency SLA percentile breaches by op and percentile."))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7, err8, err9); err != nil {
		return nil, err
	}

	return &Recorder{
		batchesDispatched: batchesDispatched,
		entriesSent:       entriesSent,
		bytesBeforeComp:   bytesBeforeComp,
		bytesAfterComp:    bytesAfterComp,
		throttleStalls:    throttleStalls,
		fanoutFailures:    fanoutFailures,
		authDecisions:     authDecisions,
		batchDecisions:    batchDecisions,
		slaViolations:     slaViolations,
	}, nil
}

// RecordBatch reports the delta between two replication.Stats snapshots
// for siteID (callers pass the difference since the last call, since Stats
// is cumulative but Recorder's counters are otel counters, which are
// themselves cumulative — see daemon's reporting loop).
func (r *Recorder) RecordBatch(ctx context.Context, siteID uint64, delta replication.Stats) {
	opt := siteAttrSet(siteID)
	r.batchesDispatched.Add(ctx, int64(delta.BatchesDispatched), opt)
	r.entriesSent.Add(ctx, int64(delta.TotalEntriesSent), opt)
	r.bytesBeforeComp.Add(ctx, int64(delta.BytesBeforeCompress), opt)
	r.bytesAfterComp.Add(ctx, int64(delta.BytesAfterCompress), opt)
	r.throttleStalls.Add(ctx, int64(delta.ThrottleStalls), opt)
	r.fanoutFailures.Add(ctx, int64(delta.FanoutFailures), opt)
}

func decisionAttr(d string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(resultKey, d))
}

// RecordAuthAttempt reports one CheckAuthAttempt decision for site.
func (r *Recorder) RecordAuthAttempt(ctx context.Context, site ratelimit.SiteID, result ratelimit.AuthResult) {
	r.authDecisions.Add(ctx, 1, siteAttrSet(uint64(site)), decisionAttr(authDecisionLabel(result.Decision)))
}

// RecordBatchSend reports one CheckBatchSend decision for site.
func (r *Recorder) RecordBatchSend(ctx context.Context, site ratelimit.SiteID, result ratelimit.AuthResult) {
	r.batchDecisions.Add(ctx, 1, siteAttrSet(uint64(site)), decisionAttr(authDecisionLabel(result.Decision)))
}

func authDecisionLabel(d ratelimit.AuthDecision) string {
	switch d {
	case ratelimit.AuthAllowed:
		return "allowed"
	case ratelimit.AuthThrottled:
		return "throttled"
	case ratelimit.AuthBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// RecordSLAViolations reports each violation found by a perf.Tracker's
// CheckViolations call.
func (r *Recorder) RecordSLAViolations(ctx context.Context, violations []perf.SLAViolation) {
	for _, v := range violations {
		r.slaViolations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String(opKey, v.Op.String()),
				attribute.Int("percentile", int(v.Percentile)),
			))
	}
}

// RegisterHealthGauges installs observable gauges that sample m's
// per-site link status and failure-burst count on every collection,
// mirroring gcsReadBytesCountAtomic's pull-based pattern in
// common/otel_metrics.go rather than pushing on every RecordError call.
func (r *Recorder) RegisterHealthGauges(m *health.Monitor) (ShutdownFn, error) {
	statusGauge, err1 := healthMeter.Int64ObservableGauge("health/link_status",
		metric.WithDescription("0=healthy 1=degraded 2=disconnected 3=critical"))
	burstGauge, err2 := healthMeter.Int64ObservableGauge("health/failure_burst_count",
		metric.WithDescription("Errors recorded within the current failure-burst window."))
	if err := errors.Join(err1, err2); err != nil {
		return nil, err
	}

	reg, err := healthMeter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, report := range m.AllSiteHealth() {
			opt := siteAttrSet(report.SiteID)
			o.ObserveInt64(statusGauge, int64(report.Status), opt)
			o.ObserveInt64(burstGauge, int64(report.FailureBurstCount), opt)
		}
		return nil
	}, statusGauge, burstGauge)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error { return reg.Unregister() }, nil
}
