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

// Package cfg holds the typed daemon configuration (spec §6's recognized
// config keys), bound to CLI flags via spf13/pflag + spf13/viper and
// decoded from an optional YAML file, the way the teacher's cfg package
// binds GCS mount flags.
package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full daemon configuration, one nested struct per
// component that exposes tunable parameters in §6.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	Site SiteConfig `yaml:"site"`

	AuthRateLimit AuthRateLimitConfig `yaml:"auth-rate-limit"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit-breaker"`

	Hedge HedgeConfig `yaml:"hedge"`

	Retry RetryConfig `yaml:"retry"`

	Backpressure BackpressureConfig `yaml:"backpressure"`

	LagSLA LagSLAConfig `yaml:"lag-sla"`

	AdaptiveTimeout AdaptiveTimeoutConfig `yaml:"adaptive-timeout"`

	Bandwidth BandwidthConfig `yaml:"bandwidth"`

	Replication ReplicationConfig `yaml:"replication"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// SiteConfig identifies this daemon's replication site and on-disk layout.
type SiteConfig struct {
	LocalSiteID    uint64 `yaml:"local-site-id"`
	JournalDir     string `yaml:"journal-dir"`
	CheckpointPath string `yaml:"checkpoint-path"`
	// PeerSiteIDs are decimal site ids this daemon replicates to, wired at
	// startup as in-memory conduits (spec §4.8 has no network transport;
	// see SPEC_FULL.md's DOMAIN STACK table).
	PeerSiteIDs    []string `yaml:"peer-site-ids"`
	MetricsAddr    string   `yaml:"metrics-addr"`
	ShardCount     uint32   `yaml:"shard-count"`
	TailIntervalMs uint64   `yaml:"tail-interval-ms"`
}

// AuthRateLimitConfig parameterizes the conduit receiver's auth-failure
// lockout and batch/byte throughput limits (§6).
type AuthRateLimitConfig struct {
	MaxAuthAttemptsPerMinute uint32 `yaml:"max-auth-attempts-per-minute"`
	LockoutDurationSecs      uint64 `yaml:"lockout-duration-secs"`
	MaxBatchesPerSecond      uint32 `yaml:"max-batches-per-second"`
	MaxGlobalBytesPerSecond  uint64 `yaml:"max-global-bytes-per-second"`
}

type CircuitBreakerConfig struct {
	FailureThreshold    uint32 `yaml:"failure-threshold"`
	SuccessThreshold    uint32 `yaml:"success-threshold"`
	OpenDurationMs      uint64 `yaml:"open-duration-ms"`
	HalfOpenMaxRequests uint32 `yaml:"half-open-max-requests"`
}

type HedgeConfig struct {
	HedgeDelayMs    uint64  `yaml:"hedge-delay-ms"`
	MaxExtraLoadPct float64 `yaml:"max-extra-load-pct"`
	ExcludeWrites   bool    `yaml:"exclude-writes"`
}

type RetryConfig struct {
	InitialBackoffMs  uint64  `yaml:"initial-backoff-ms"`
	MaxBackoffMs      uint64  `yaml:"max-backoff-ms"`
	BackoffMultiplier float64 `yaml:"backoff-multiplier"`
	MaxRetries        uint32  `yaml:"max-retries"`
	Jitter            float64 `yaml:"jitter"`
}

type BackpressureConfig struct {
	MildQueueDepth       uint64 `yaml:"mild-queue-depth"`
	ModerateQueueDepth   uint64 `yaml:"moderate-queue-depth"`
	SevereQueueDepth     uint64 `yaml:"severe-queue-depth"`
	HaltQueueDepth       uint64 `yaml:"halt-queue-depth"`
	ErrorCountWindowSecs uint64 `yaml:"error-count-window-secs"`
	ErrorCountThreshold  uint64 `yaml:"error-count-threshold"`
}

type LagSLAConfig struct {
	WarnThresholdMs     uint64 `yaml:"warn-threshold-ms"`
	CriticalThresholdMs uint64 `yaml:"critical-threshold-ms"`
	MaxAcceptableMs     uint64 `yaml:"max-acceptable-ms"`
}

type AdaptiveTimeoutConfig struct {
	WindowSize       uint32  `yaml:"window-size"`
	PercentileTarget float64 `yaml:"percentile-target"`
	SafetyMargin     float64 `yaml:"safety-margin"`
	MinTimeoutMs     uint64  `yaml:"min-timeout-ms"`
	MaxTimeoutMs     uint64  `yaml:"max-timeout-ms"`
}

type BandwidthConfig struct {
	Enforcement         BandwidthEnforcement `yaml:"enforcement"`
	BurstFactor         float64              `yaml:"burst-factor"`
	MeasurementWindowMs uint64               `yaml:"measurement-window-ms"`
}

// ReplicationConfig mirrors internal/replication.Config's fields so the
// daemon entrypoint can build one straight from the loaded config.
type ReplicationConfig struct {
	MaxBatchSize       int           `yaml:"max-batch-size"`
	BatchTimeout       time.Duration `yaml:"batch-timeout"`
	CompactBeforeSend  bool          `yaml:"compact-before-send"`
	ApplyUIDMapping    bool          `yaml:"apply-uid-mapping"`
	CompressBeforeSend bool          `yaml:"compress-before-send"`
}

// BindFlags registers every config key as a pflag and binds it into
// viper under the same dotted key used by the YAML tags above, so a
// flag, an env var, and a config file entry all resolve to one field.
func BindFlags(flagSet *pflag.FlagSet) error {
	type binding struct {
		key string
		set func()
	}

	d := DefaultConfig()

	bindings := []binding{
		{"logging.severity", func() { flagSet.String("logging.severity", string(d.Logging.Severity), "log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF") }},
		{"logging.log-rotate.max-file-size-mb", func() { flagSet.Int("logging.log-rotate.max-file-size-mb", d.Logging.LogRotate.MaxFileSizeMb, "journal/log rotation size in MiB") }},
		{"logging.log-rotate.backup-file-count", func() { flagSet.Int("logging.log-rotate.backup-file-count", d.Logging.LogRotate.BackupFileCount, "rotated log files to retain") }},
		{"logging.log-rotate.compress", func() { flagSet.Bool("logging.log-rotate.compress", d.Logging.LogRotate.Compress, "gzip rotated log files") }},

		{"site.local-site-id", func() { flagSet.Uint64("site.local-site-id", d.Site.LocalSiteID, "this daemon's replication site id") }},
		{"site.journal-dir", func() { flagSet.String("site.journal-dir", d.Site.JournalDir, "directory holding per-shard journal files") }},
		{"site.checkpoint-path", func() { flagSet.String("site.checkpoint-path", d.Site.CheckpointPath, "path to the atomically-rewritten checkpoint file") }},
		{"site.peer-site-ids", func() { flagSet.StringSlice("site.peer-site-ids", d.Site.PeerSiteIDs, "comma-separated peer site ids replicated to, wired as in-process conduits") }},
		{"site.metrics-addr", func() { flagSet.String("site.metrics-addr", d.Site.MetricsAddr, "listen address for the Prometheus /metrics endpoint") }},
		{"site.shard-count", func() { flagSet.Uint32("site.shard-count", d.Site.ShardCount, "number of journal shards this daemon tails") }},
		{"site.tail-interval-ms", func() { flagSet.Uint64("site.tail-interval-ms", d.Site.TailIntervalMs, "journal tail poll interval") }},

		{"auth-rate-limit.max-auth-attempts-per-minute", func() {
			flagSet.Uint32("auth-rate-limit.max-auth-attempts-per-minute", d.AuthRateLimit.MaxAuthAttemptsPerMinute, "auth failures per site per minute before lockout")
		}},
		{"auth-rate-limit.lockout-duration-secs", func() { flagSet.Uint64("auth-rate-limit.lockout-duration-secs", d.AuthRateLimit.LockoutDurationSecs, "site lockout duration in seconds") }},
		{"auth-rate-limit.max-batches-per-second", func() { flagSet.Uint32("auth-rate-limit.max-batches-per-second", d.AuthRateLimit.MaxBatchesPerSecond, "receiver batch rate limit") }},
		{"auth-rate-limit.max-global-bytes-per-second", func() {
			flagSet.Uint64("auth-rate-limit.max-global-bytes-per-second", d.AuthRateLimit.MaxGlobalBytesPerSecond, "receiver global byte rate limit, 0 = unlimited")
		}},

		{"circuit-breaker.failure-threshold", func() { flagSet.Uint32("circuit-breaker.failure-threshold", d.CircuitBreaker.FailureThreshold, "consecutive failures before Open") }},
		{"circuit-breaker.success-threshold", func() { flagSet.Uint32("circuit-breaker.success-threshold", d.CircuitBreaker.SuccessThreshold, "HalfOpen successes before Closed") }},
		{"circuit-breaker.open-duration-ms", func() { flagSet.Uint64("circuit-breaker.open-duration-ms", d.CircuitBreaker.OpenDurationMs, "Open duration before HalfOpen probe") }},
		{"circuit-breaker.half-open-max-requests", func() { flagSet.Uint32("circuit-breaker.half-open-max-requests", d.CircuitBreaker.HalfOpenMaxRequests, "concurrent probes allowed while HalfOpen") }},

		{"hedge.hedge-delay-ms", func() { flagSet.Uint64("hedge.hedge-delay-ms", d.Hedge.HedgeDelayMs, "delay before firing a speculative hedge request") }},
		{"hedge.max-extra-load-pct", func() { flagSet.Float64("hedge.max-extra-load-pct", d.Hedge.MaxExtraLoadPct, "cap on hedge-induced extra load, percent") }},
		{"hedge.exclude-writes", func() { flagSet.Bool("hedge.exclude-writes", d.Hedge.ExcludeWrites, "never hedge write operations") }},

		{"retry.initial-backoff-ms", func() { flagSet.Uint64("retry.initial-backoff-ms", d.Retry.InitialBackoffMs, "first retry backoff") }},
		{"retry.max-backoff-ms", func() { flagSet.Uint64("retry.max-backoff-ms", d.Retry.MaxBackoffMs, "backoff ceiling") }},
		{"retry.backoff-multiplier", func() { flagSet.Float64("retry.backoff-multiplier", d.Retry.BackoffMultiplier, "exponential backoff multiplier") }},
		{"retry.max-retries", func() { flagSet.Uint32("retry.max-retries", d.Retry.MaxRetries, "max retry attempts") }},
		{"retry.jitter", func() { flagSet.Float64("retry.jitter", d.Retry.Jitter, "backoff jitter fraction") }},

		{"backpressure.mild-queue-depth", func() { flagSet.Uint64("backpressure.mild-queue-depth", d.Backpressure.MildQueueDepth, "mild backpressure queue depth threshold") }},
		{"backpressure.moderate-queue-depth", func() { flagSet.Uint64("backpressure.moderate-queue-depth", d.Backpressure.ModerateQueueDepth, "moderate backpressure queue depth threshold") }},
		{"backpressure.severe-queue-depth", func() { flagSet.Uint64("backpressure.severe-queue-depth", d.Backpressure.SevereQueueDepth, "severe backpressure queue depth threshold") }},
		{"backpressure.halt-queue-depth", func() { flagSet.Uint64("backpressure.halt-queue-depth", d.Backpressure.HaltQueueDepth, "halt backpressure queue depth threshold") }},
		{"backpressure.error-count-window-secs", func() { flagSet.Uint64("backpressure.error-count-window-secs", d.Backpressure.ErrorCountWindowSecs, "sliding window for error-count backpressure") }},
		{"backpressure.error-count-threshold", func() { flagSet.Uint64("backpressure.error-count-threshold", d.Backpressure.ErrorCountThreshold, "errors within the window before backpressure trips") }},

		{"lag-sla.warn-threshold-ms", func() { flagSet.Uint64("lag-sla.warn-threshold-ms", d.LagSLA.WarnThresholdMs, "replication lag warning threshold") }},
		{"lag-sla.critical-threshold-ms", func() { flagSet.Uint64("lag-sla.critical-threshold-ms", d.LagSLA.CriticalThresholdMs, "replication lag critical threshold") }},
		{"lag-sla.max-acceptable-ms", func() { flagSet.Uint64("lag-sla.max-acceptable-ms", d.LagSLA.MaxAcceptableMs, "replication lag SLA ceiling") }},

		{"adaptive-timeout.window-size", func() { flagSet.Uint32("adaptive-timeout.window-size", d.AdaptiveTimeout.WindowSize, "sample window for adaptive timeout") }},
		{"adaptive-timeout.percentile-target", func() { flagSet.Float64("adaptive-timeout.percentile-target", d.AdaptiveTimeout.PercentileTarget, "latency percentile the timeout tracks") }},
		{"adaptive-timeout.safety-margin", func() { flagSet.Float64("adaptive-timeout.safety-margin", d.AdaptiveTimeout.SafetyMargin, "multiplier applied over the tracked percentile") }},
		{"adaptive-timeout.min-timeout-ms", func() { flagSet.Uint64("adaptive-timeout.min-timeout-ms", d.AdaptiveTimeout.MinTimeoutMs, "adaptive timeout floor") }},
		{"adaptive-timeout.max-timeout-ms", func() { flagSet.Uint64("adaptive-timeout.max-timeout-ms", d.AdaptiveTimeout.MaxTimeoutMs, "adaptive timeout ceiling") }},

		{"bandwidth.enforcement", func() { flagSet.String("bandwidth.enforcement", string(d.Bandwidth.Enforcement), "bandwidth enforcement mode: Strict, Shaping, Monitor") }},
		{"bandwidth.burst-factor", func() { flagSet.Float64("bandwidth.burst-factor", d.Bandwidth.BurstFactor, "bandwidth burst multiplier") }},
		{"bandwidth.measurement-window-ms", func() { flagSet.Uint64("bandwidth.measurement-window-ms", d.Bandwidth.MeasurementWindowMs, "bandwidth measurement window") }},

		{"replication.max-batch-size", func() { flagSet.Int("replication.max-batch-size", d.Replication.MaxBatchSize, "max entries per replication batch") }},
		{"replication.batch-timeout", func() { flagSet.Duration("replication.batch-timeout", d.Replication.BatchTimeout, "max wait before dispatching a partial batch") }},
		{"replication.compact-before-send", func() { flagSet.Bool("replication.compact-before-send", d.Replication.CompactBeforeSend, "coalesce consecutive same-inode writes before dispatch") }},
		{"replication.apply-uid-mapping", func() { flagSet.Bool("replication.apply-uid-mapping", d.Replication.ApplyUIDMapping, "apply cross-site uid mapping before dispatch") }},
		{"replication.compress-before-send", func() { flagSet.Bool("replication.compress-before-send", d.Replication.CompressBeforeSend, "zstd-compress entry payloads before dispatch") }},
	}

	for _, b := range bindings {
		b.set()
		if err := viper.BindPFlag(b.key, flagSet.Lookup(b.key)); err != nil {
			return err
		}
	}
	return nil
}
