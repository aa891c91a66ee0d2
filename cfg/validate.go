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

package cfg

import "fmt"

// ValidateConfig rejects combinations that would make the daemon
// unsafe or meaningless to start, mirroring the teacher's fail-fast
// validation of a fully-decoded Config.
func ValidateConfig(c *Config) error {
	if c.Site.LocalSiteID == 0 {
		return fmt.Errorf("site.local-site-id must be nonzero")
	}
	if c.Site.JournalDir == "" {
		return fmt.Errorf("site.journal-dir must be set")
	}
	if c.Site.CheckpointPath == "" {
		return fmt.Errorf("site.checkpoint-path must be set")
	}
	if c.Site.ShardCount == 0 {
		return fmt.Errorf("site.shard-count must be > 0")
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit-breaker.failure-threshold must be > 0")
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		return fmt.Errorf("circuit-breaker.success-threshold must be > 0")
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return fmt.Errorf("retry.backoff-multiplier must be >= 1.0, got %v", c.Retry.BackoffMultiplier)
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max-backoff-ms (%d) must be >= retry.initial-backoff-ms (%d)", c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0,1], got %v", c.Retry.Jitter)
	}

	if !(c.Backpressure.MildQueueDepth < c.Backpressure.ModerateQueueDepth &&
		c.Backpressure.ModerateQueueDepth < c.Backpressure.SevereQueueDepth &&
		c.Backpressure.SevereQueueDepth < c.Backpressure.HaltQueueDepth) {
		return fmt.Errorf("backpressure queue depth thresholds must be strictly increasing: mild < moderate < severe < halt")
	}

	if !(c.LagSLA.WarnThresholdMs < c.LagSLA.CriticalThresholdMs &&
		c.LagSLA.CriticalThresholdMs <= c.LagSLA.MaxAcceptableMs) {
		return fmt.Errorf("lag-sla thresholds must satisfy warn < critical <= max-acceptable")
	}

	if c.AdaptiveTimeout.PercentileTarget <= 0 || c.AdaptiveTimeout.PercentileTarget > 1 {
		return fmt.Errorf("adaptive-timeout.percentile-target must be within (0,1], got %v", c.AdaptiveTimeout.PercentileTarget)
	}
	if c.AdaptiveTimeout.MinTimeoutMs > c.AdaptiveTimeout.MaxTimeoutMs {
		return fmt.Errorf("adaptive-timeout.min-timeout-ms must be <= adaptive-timeout.max-timeout-ms")
	}

	switch c.Bandwidth.Enforcement {
	case EnforcementStrict, EnforcementShaping, EnforcementMonitor:
	default:
		return fmt.Errorf("bandwidth.enforcement must be one of Strict, Shaping, Monitor, got %q", c.Bandwidth.Enforcement)
	}
	if c.Bandwidth.BurstFactor < 1.0 {
		return fmt.Errorf("bandwidth.burst-factor must be >= 1.0, got %v", c.Bandwidth.BurstFactor)
	}

	if c.Replication.MaxBatchSize <= 0 {
		return fmt.Errorf("replication.max-batch-size must be > 0")
	}

	return nil
}
