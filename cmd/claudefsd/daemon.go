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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dirkpetersen/claudefs/cfg"
	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/audit"
	"github.com/dirkpetersen/claudefs/internal/batchauth"
	"github.com/dirkpetersen/claudefs/internal/checkpoint"
	"github.com/dirkpetersen/claudefs/internal/conduit"
	"github.com/dirkpetersen/claudefs/internal/failover"
	"github.com/dirkpetersen/claudefs/internal/health"
	"github.com/dirkpetersen/claudefs/internal/journal"
	"github.com/dirkpetersen/claudefs/internal/liveconfig"
	"github.com/dirkpetersen/claudefs/internal/logger"
	"github.com/dirkpetersen/claudefs/internal/membership"
	"github.com/dirkpetersen/claudefs/internal/model"
	"github.com/dirkpetersen/claudefs/internal/perf"
	"github.com/dirkpetersen/claudefs/internal/ratelimit"
	"github.com/dirkpetersen/claudefs/internal/replication"
	"github.com/dirkpetersen/claudefs/internal/telemetry"
	"github.com/dirkpetersen/claudefs/internal/throttle"
)

// logSeverity maps a cfg.LogSeverity string onto the logger package's
// coarser int enum; OFF is mapped to Error since logger has no off level.
func logSeverity(s cfg.LogSeverity) logger.Severity {
	switch s {
	case cfg.TraceLogSeverity:
		return logger.Trace
	case cfg.DebugLogSeverity:
		return logger.Debug
	case cfg.WarningLogSeverity:
		return logger.Warning
	case cfg.ErrorLogSeverity, cfg.OffLogSeverity:
		return logger.Error
	default:
		return logger.Info
	}
}

// parsePeerSiteIDs converts the daemon's comma/flag-separated peer site
// ids into uint64s, rejecting anything that doesn't parse cleanly.
func parsePeerSiteIDs(raw []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("site.peer-site-ids: invalid site id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// shardTailState tracks this process's own replay position in one
// journal shard, distinct from checkpoint.Manager's per-peer ack
// cursors: Replay always returns a shard's full history, so the daemon
// must remember locally how much of it has already been dispatched.
type shardTailState struct {
	lastSeq uint64
}

// runDaemon wires every component the replication daemon needs from cfg
// and runs its tail-compact-compress-fanout loop until it receives
// SIGINT/SIGTERM, mirroring the teacher's long-running mount command.
func runDaemon(c *cfg.Config) error {
	logger.Init(logger.Config{
		Severity:   logSeverity(c.Logging.Severity),
		FilePath:   "",
		MaxSizeMB:  c.Logging.LogRotate.MaxFileSizeMb,
		MaxBackups: c.Logging.LogRotate.BackupFileCount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}

	peerIDs, err := parsePeerSiteIDs(c.Site.PeerSiteIDs)
	if err != nil {
		return err
	}

	key, err := batchauth.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating batch auth key: %w", err)
	}
	defer key.Destroy()

	fanout := conduit.NewFanout(c.Site.LocalSiteID)
	remoteEnds := make(map[uint64]*conduit.Conduit, len(peerIDs))
	for _, peer := range peerIDs {
		local, remote := conduit.NewPair(c.Site.LocalSiteID, peer, key)
		fanout.AddConduit(local)
		remoteEnds[peer] = remote
	}

	healthMonitor := health.NewMonitorWithClock(health.DefaultThresholds(), clk)
	for _, peer := range peerIDs {
		healthMonitor.RegisterSite(peer, fmt.Sprintf("site-%d", peer))
	}

	var standbySite uint64
	if len(peerIDs) > 0 {
		standbySite = peerIDs[0]
	}
	failoverCtrl := failover.New(c.Site.LocalSiteID, standbySite)

	members := membership.New(fmt.Sprintf("site-%d", c.Site.LocalSiteID), clk)
	members.Join(fmt.Sprintf("site-%d", c.Site.LocalSiteID), c.Site.MetricsAddr)

	th := throttle.New(throttle.DefaultConfig())

	replCfg := replication.DefaultConfig()
	replCfg.LocalSiteID = c.Site.LocalSiteID
	replCfg.MaxBatchSize = c.Replication.MaxBatchSize
	replCfg.BatchTimeout = c.Replication.BatchTimeout
	replCfg.CompactBeforeSend = c.Replication.CompactBeforeSend
	replCfg.ApplyUIDMapping = c.Replication.ApplyUIDMapping
	replCfg.CompressBeforeSend = c.Replication.CompressBeforeSend

	pipeline := replication.New(replCfg, th, fanout)
	defer pipeline.Close()
	pipeline.Start()

	j, err := journal.Open(c.Site.JournalDir)
	if err != nil {
		return fmt.Errorf("opening journal at %s: %w", c.Site.JournalDir, err)
	}
	defer j.Close()

	cpMgr := checkpoint.New(c.Site.LocalSiteID)
	if _, statErr := os.Stat(c.Site.CheckpointPath); statErr == nil {
		if loadErr := cpMgr.Load(c.Site.CheckpointPath); loadErr != nil {
			return fmt.Errorf("loading checkpoint %s: %w", c.Site.CheckpointPath, loadErr)
		}
	}

	authLimiter := ratelimit.NewAuthLimiter(ratelimit.AuthConfig{
		MaxAuthAttemptsPerMinute: c.AuthRateLimit.MaxAuthAttemptsPerMinute,
		LockoutDurationSecs:      c.AuthRateLimit.LockoutDurationSecs,
		MaxBatchesPerSecond:      c.AuthRateLimit.MaxBatchesPerSecond,
		MaxGlobalBytesPerSecond:  c.AuthRateLimit.MaxGlobalBytesPerSecond,
	})

	tracker := perf.NewTracker()
	tracker.SetThreshold(perf.SLAThreshold{Op: perf.OpWrite, P99TargetUS: 10000, P50TargetUS: 2000})

	liveStore := liveconfig.New(clk)
	if err := liveStore.Set("logging.severity", string(c.Logging.Severity), "log verbosity, reloadable without a restart"); err != nil {
		return fmt.Errorf("seeding live config: %w", err)
	}
	severityChanged := liveStore.Watch([]string{"logging.severity"})

	auditTrail := audit.New(audit.DefaultConfig(), clk)

	shutdownTelemetry, err := telemetry.Setup(c.Site.MetricsAddr)
	if err != nil {
		return fmt.Errorf("starting telemetry endpoint on %s: %w", c.Site.MetricsAddr, err)
	}
	recorder, err := telemetry.NewRecorder()
	if err != nil {
		return fmt.Errorf("constructing telemetry recorder: %w", err)
	}
	shutdownHealthGauges, err := recorder.RegisterHealthGauges(healthMonitor)
	if err != nil {
		return fmt.Errorf("registering health gauges: %w", err)
	}
	for peer, remote := range remoteEnds {
		go receiveLoop(ctx, peer, remote, authLimiter, recorder, auditTrail)
	}

	shutdown := telemetry.JoinShutdownFunc(shutdownHealthGauges, shutdownTelemetry)
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shErr := shutdown(shCtx); shErr != nil {
			logger.Errorf(shCtx, "telemetry shutdown: %v", shErr)
		}
	}()

	logger.Infof(ctx, "claudefsd starting: site=%d peers=%v journal=%s metrics=%s",
		c.Site.LocalSiteID, peerIDs, c.Site.JournalDir, c.Site.MetricsAddr)

	tailStates := make(map[uint32]*shardTailState, c.Site.ShardCount)
	for shard := uint32(0); shard < c.Site.ShardCount; shard++ {
		tailStates[shard] = &shardTailState{}
	}

	ticker := time.NewTicker(time.Duration(c.Site.TailIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	persistInterval := time.NewTicker(10 * time.Second)
	defer persistInterval.Stop()

	var lastStats replication.Stats

	auditTrail.Record(audit.AuthSuccess, "", fmt.Sprintf("site-%d", c.Site.LocalSiteID), c.Site.JournalDir, "claudefsd started")

	for {
		select {
		case <-ctx.Done():
			logger.Infof(context.Background(), "claudefsd shutting down")
			pipeline.Stop()
			if persistErr := cpMgr.Persist(c.Site.CheckpointPath, clk); persistErr != nil {
				logger.Errorf(context.Background(), "final checkpoint persist: %v", persistErr)
			}
			return nil

		case <-severityChanged:
			entry, getErr := liveStore.Get("logging.severity")
			if getErr != nil {
				continue
			}
			logger.Init(logger.Config{
				Severity:   logSeverity(cfg.LogSeverity(entry.Value)),
				FilePath:   "",
				MaxSizeMB:  c.Logging.LogRotate.MaxFileSizeMb,
				MaxBackups: c.Logging.LogRotate.BackupFileCount,
			})
			logger.Infof(ctx, "log severity reloaded to %s", entry.Value)

		case <-persistInterval.C:
			if persistErr := cpMgr.Persist(c.Site.CheckpointPath, clk); persistErr != nil {
				logger.Errorf(ctx, "checkpoint persist: %v", persistErr)
			}

		case <-ticker.C:
			if err := tailOnce(ctx, j, tailStates, pipeline, cpMgr, fanout, healthMonitor, recorder, tracker, auditTrail, clk); err != nil {
				logger.Errorf(ctx, "tail cycle: %v", err)
			}
			delta := diffStats(lastStats, pipeline.Stats())
			recorder.RecordBatch(ctx, c.Site.LocalSiteID, delta)
			lastStats = pipeline.Stats()

			if violations := tracker.CheckViolations(uint64(clk.Now().UnixNano())); len(violations) > 0 {
				recorder.RecordSLAViolations(ctx, violations)
				for _, v := range violations {
					auditTrail.Record(audit.RateLimitTriggered, "", "", v.Op.String(), "latency SLA violation")
				}
			}

			for _, report := range healthMonitor.AllSiteHealth() {
				event := failover.Event{SiteID: report.SiteID}
				switch report.Status {
				case health.LinkDisconnected, health.LinkCritical:
					event.Kind = failover.EventSiteDown
				default:
					event.Kind = failover.EventSiteUp
				}
				if state := failoverCtrl.ProcessEvent(ctx, event); state.Kind == failover.StateSplitBrain {
					auditTrail.Record(audit.UnauthorizedOperation, "", fmt.Sprintf("site-%d", report.SiteID), "", "split brain detected")
				}
			}
		}
	}
}

// receiveLoop services one peer's remote conduit end, standing in for the
// peer process this daemon would otherwise dial over the network: every
// inbound batch is already tag-verified by Conduit.Receive, then passed
// through the auth rate limiter before being accepted, so a compromised
// or malfunctioning peer can't flood this site with batches.
func receiveLoop(ctx context.Context, peer uint64, remote *conduit.Conduit, authLimiter *ratelimit.AuthLimiter, recorder *telemetry.Recorder, auditTrail *audit.Trail) {
	site := ratelimit.SiteID(peer)
	for {
		batch, err := remote.Receive(ctx)
		if err != nil {
			return
		}

		var byteCount uint64
		for _, e := range batch.Entries {
			byteCount += uint64(len(e.Payload))
		}

		result := authLimiter.CheckBatchSend(site, byteCount, uint64(time.Now().UnixMicro()))
		recorder.RecordBatchSend(ctx, site, result)
		if result.Decision != ratelimit.AuthAllowed {
			auditTrail.Record(audit.RateLimitTriggered, "", fmt.Sprintf("site-%d", peer), "", result.Reason)
		}
	}
}

// diffStats returns the field-wise delta of cur over prev, for feeding
// replication.Stats' cumulative counters into otel's cumulative counters.
func diffStats(prev, cur replication.Stats) replication.Stats {
	return replication.Stats{
		EntriesTailed:        cur.EntriesTailed - prev.EntriesTailed,
		EntriesCompactedAway: cur.EntriesCompactedAway - prev.EntriesCompactedAway,
		BatchesDispatched:    cur.BatchesDispatched - prev.BatchesDispatched,
		TotalEntriesSent:     cur.TotalEntriesSent - prev.TotalEntriesSent,
		TotalBytesSent:       cur.TotalBytesSent - prev.TotalBytesSent,
		ThrottleStalls:       cur.ThrottleStalls - prev.ThrottleStalls,
		FanoutFailures:       cur.FanoutFailures - prev.FanoutFailures,
		BytesBeforeCompress:  cur.BytesBeforeCompress - prev.BytesBeforeCompress,
		BytesAfterCompress:   cur.BytesAfterCompress - prev.BytesAfterCompress,
	}
}

// tailOnce replays every shard, dispatches any entries beyond each
// shard's last-tailed position, and updates per-peer checkpoint cursors
// and per-site link health from the outcome.
func tailOnce(
	ctx context.Context,
	j *journal.Journal,
	tailStates map[uint32]*shardTailState,
	pipeline *replication.Pipeline,
	cpMgr *checkpoint.Manager,
	fanout *conduit.Fanout,
	healthMonitor *health.Monitor,
	recorder *telemetry.Recorder,
	tracker *perf.Tracker,
	auditTrail *audit.Trail,
	clk clock.Clock,
) error {
	var errs error
	for shard, tail := range tailStates {
		entries, err := j.Replay(shard)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("replaying shard %d: %w", shard, err))
			continue
		}

		var fresh []model.JournalEntry
		for _, e := range entries {
			if e.Seq > tail.lastSeq {
				fresh = append(fresh, e)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		start := clk.Now()
		sent, err := pipeline.ProcessBatch(fresh, start)
		tracker.RecordSample(perf.LatencySample{
			Op:          perf.OpWrite,
			LatencyUS:   uint64(clk.Now().Sub(start).Microseconds()),
			TimestampNS: uint64(clk.Now().UnixNano()),
		})
		if err != nil {
			for _, peer := range fanout.SiteIDs() {
				healthMonitor.RecordError(peer)
			}
			auditTrail.Record(audit.ExportViolation, "", "", fmt.Sprintf("shard-%d", shard), err.Error())
			errs = errors.Join(errs, err)
			continue
		}

		maxSeq := tail.lastSeq
		for _, e := range fresh {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
		tail.lastSeq = maxSeq

		for _, peer := range fanout.SiteIDs() {
			if advErr := cpMgr.Advance(peer, shard, maxSeq); advErr != nil {
				errs = errors.Join(errs, advErr)
				continue
			}
			healthMonitor.RecordSuccess(peer, 0, clk.Now().UnixMicro())
		}

		logger.Debugf(ctx, "shard %d: dispatched %d entries to %d sites", shard, len(fresh), sent)
	}
	return errs
}
