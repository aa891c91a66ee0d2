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

import (
	"fmt"
	"slices"
	"strings"
)

// LogSeverity is the logging verbosity, matching internal/logger's Severity
// vocabulary so config and runtime agree on spelling.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := strings.ToUpper(string(text))
	valid := []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}
	if !slices.Contains(valid, level) {
		return fmt.Errorf("invalid log severity %q: must be one of %v", string(text), valid)
	}
	*l = LogSeverity(level)
	return nil
}

// BandwidthEnforcement is the bandwidth allocator's enforcement mode (§6).
type BandwidthEnforcement string

const (
	EnforcementStrict  BandwidthEnforcement = "Strict"
	EnforcementShaping BandwidthEnforcement = "Shaping"
	EnforcementMonitor BandwidthEnforcement = "Monitor"
)

func (e *BandwidthEnforcement) UnmarshalText(text []byte) error {
	norm := strings.ToUpper(string(text))
	switch norm {
	case "STRICT":
		*e = EnforcementStrict
	case "SHAPING":
		*e = EnforcementShaping
	case "MONITOR":
		*e = EnforcementMonitor
	default:
		return fmt.Errorf("invalid bandwidth enforcement %q: must be one of Strict, Shaping, Monitor", string(text))
	}
	return nil
}
