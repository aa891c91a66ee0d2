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

// Rationalize fills in values a user left at their zero value with the
// daemon's effective defaults, after flags/env/file have been decoded
// but before ValidateConfig runs. This lets a partial config file
// override only the keys it cares about.
func Rationalize(c *Config) error {
	d := DefaultConfig()

	if c.Logging.Severity == "" {
		c.Logging.Severity = d.Logging.Severity
	}
	if c.Logging.LogRotate.MaxFileSizeMb == 0 {
		c.Logging.LogRotate.MaxFileSizeMb = d.Logging.LogRotate.MaxFileSizeMb
	}

	if c.Site.LocalSiteID == 0 {
		c.Site.LocalSiteID = d.Site.LocalSiteID
	}
	if c.Site.JournalDir == "" {
		c.Site.JournalDir = d.Site.JournalDir
	}
	if c.Site.CheckpointPath == "" {
		c.Site.CheckpointPath = d.Site.CheckpointPath
	}
	if c.Site.MetricsAddr == "" {
		c.Site.MetricsAddr = d.Site.MetricsAddr
	}
	if c.Site.ShardCount == 0 {
		c.Site.ShardCount = d.Site.ShardCount
	}
	if c.Site.TailIntervalMs == 0 {
		c.Site.TailIntervalMs = d.Site.TailIntervalMs
	}

	if c.AuthRateLimit.MaxAuthAttemptsPerMinute == 0 {
		c.AuthRateLimit.MaxAuthAttemptsPerMinute = d.AuthRateLimit.MaxAuthAttemptsPerMinute
	}
	if c.AuthRateLimit.LockoutDurationSecs == 0 {
		c.AuthRateLimit.LockoutDurationSecs = d.AuthRateLimit.LockoutDurationSecs
	}
	if c.AuthRateLimit.MaxBatchesPerSecond == 0 {
		c.AuthRateLimit.MaxBatchesPerSecond = d.AuthRateLimit.MaxBatchesPerSecond
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = d.CircuitBreaker.SuccessThreshold
	}
	if c.CircuitBreaker.OpenDurationMs == 0 {
		c.CircuitBreaker.OpenDurationMs = d.CircuitBreaker.OpenDurationMs
	}
	if c.CircuitBreaker.HalfOpenMaxRequests == 0 {
		c.CircuitBreaker.HalfOpenMaxRequests = d.CircuitBreaker.HalfOpenMaxRequests
	}

	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = d.Retry.BackoffMultiplier
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = d.Retry.InitialBackoffMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = d.Retry.MaxBackoffMs
	}

	if c.Backpressure.HaltQueueDepth == 0 {
		c.Backpressure.MildQueueDepth = d.Backpressure.MildQueueDepth
		c.Backpressure.ModerateQueueDepth = d.Backpressure.ModerateQueueDepth
		c.Backpressure.SevereQueueDepth = d.Backpressure.SevereQueueDepth
		c.Backpressure.HaltQueueDepth = d.Backpressure.HaltQueueDepth
	}
	if c.Backpressure.ErrorCountWindowSecs == 0 {
		c.Backpressure.ErrorCountWindowSecs = d.Backpressure.ErrorCountWindowSecs
	}
	if c.Backpressure.ErrorCountThreshold == 0 {
		c.Backpressure.ErrorCountThreshold = d.Backpressure.ErrorCountThreshold
	}

	if c.LagSLA.MaxAcceptableMs == 0 {
		c.LagSLA.WarnThresholdMs = d.LagSLA.WarnThresholdMs
		c.LagSLA.CriticalThresholdMs = d.LagSLA.CriticalThresholdMs
		c.LagSLA.MaxAcceptableMs = d.LagSLA.MaxAcceptableMs
	}

	if c.AdaptiveTimeout.WindowSize == 0 {
		c.AdaptiveTimeout.WindowSize = d.AdaptiveTimeout.WindowSize
	}
	if c.AdaptiveTimeout.PercentileTarget == 0 {
		c.AdaptiveTimeout.PercentileTarget = d.AdaptiveTimeout.PercentileTarget
	}
	if c.AdaptiveTimeout.SafetyMargin == 0 {
		c.AdaptiveTimeout.SafetyMargin = d.AdaptiveTimeout.SafetyMargin
	}
	if c.AdaptiveTimeout.MaxTimeoutMs == 0 {
		c.AdaptiveTimeout.MinTimeoutMs = d.AdaptiveTimeout.MinTimeoutMs
		c.AdaptiveTimeout.MaxTimeoutMs = d.AdaptiveTimeout.MaxTimeoutMs
	}

	if c.Bandwidth.Enforcement == "" {
		c.Bandwidth.Enforcement = d.Bandwidth.Enforcement
	}
	if c.Bandwidth.BurstFactor == 0 {
		c.Bandwidth.BurstFactor = d.Bandwidth.BurstFactor
	}
	if c.Bandwidth.MeasurementWindowMs == 0 {
		c.Bandwidth.MeasurementWindowMs = d.Bandwidth.MeasurementWindowMs
	}

	if c.Replication.MaxBatchSize == 0 {
		c.Replication.MaxBatchSize = d.Replication.MaxBatchSize
	}
	if c.Replication.BatchTimeout == 0 {
		c.Replication.BatchTimeout = d.Replication.BatchTimeout
	}

	return nil
}
