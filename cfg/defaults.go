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

import "time"

// DefaultConfig returns a Config populated with the defaults spec §6
// assumes when a key is left unset.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
			LogRotate: LogRotateConfig{
				MaxFileSizeMb:   512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
		Site: SiteConfig{
			LocalSiteID:    1,
			JournalDir:     "/var/lib/claudefsd/journal",
			CheckpointPath: "/var/lib/claudefsd/checkpoint",
			PeerSiteIDs:    nil,
			MetricsAddr:    ":9090",
			ShardCount:     16,
			TailIntervalMs: 100,
		},
		AuthRateLimit: AuthRateLimitConfig{
			MaxAuthAttemptsPerMinute: 60,
			LockoutDurationSecs:      300,
			MaxBatchesPerSecond:      1000,
			MaxGlobalBytesPerSecond:  0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			OpenDurationMs:      30_000,
			HalfOpenMaxRequests: 1,
		},
		Hedge: HedgeConfig{
			HedgeDelayMs:    50,
			MaxExtraLoadPct: 5.0,
			ExcludeWrites:   true,
		},
		Retry: RetryConfig{
			InitialBackoffMs:  100,
			MaxBackoffMs:      10_000,
			BackoffMultiplier: 2.0,
			MaxRetries:        5,
			Jitter:            0.2,
		},
		Backpressure: BackpressureConfig{
			MildQueueDepth:       1_000,
			ModerateQueueDepth:   5_000,
			SevereQueueDepth:     20_000,
			HaltQueueDepth:       50_000,
			ErrorCountWindowSecs: 60,
			ErrorCountThreshold:  50,
		},
		LagSLA: LagSLAConfig{
			WarnThresholdMs:     1_000,
			CriticalThresholdMs: 10_000,
			MaxAcceptableMs:     60_000,
		},
		AdaptiveTimeout: AdaptiveTimeoutConfig{
			WindowSize:       100,
			PercentileTarget: 0.99,
			SafetyMargin:     1.5,
			MinTimeoutMs:     50,
			MaxTimeoutMs:     30_000,
		},
		Bandwidth: BandwidthConfig{
			Enforcement:         EnforcementShaping,
			BurstFactor:         1.5,
			MeasurementWindowMs: 1_000,
		},
		Replication: ReplicationConfig{
			MaxBatchSize:       1000,
			BatchTimeout:       100 * time.Millisecond,
			CompactBeforeSend:  true,
			ApplyUIDMapping:    false,
			CompressBeforeSend: true,
		},
	}
}
