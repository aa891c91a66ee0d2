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

// Package audit implements the ring-buffer security audit trail of
// spec §4.20: every record carries a monotonic ID, a severity derived
// from its event type, and is dropped if auditing is disabled or the
// event's severity falls below the trail's configured floor.
package audit

import (
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
)

// Severity ranks an audit event's urgency, ordered Info < Warning < Critical.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

// EventType enumerates the gateway/replication security events audited.
type EventType int

const (
	AuthSuccess EventType = iota
	AuthFailure
	ExportViolation
	RateLimitTriggered
	AclDenied
	TokenRevoked
	TlsHandshakeFailed
	UnauthorizedOperation
)

// Severity returns the fixed severity for an EventType.
func (t EventType) Severity() Severity {
	switch t {
	case AuthSuccess, RateLimitTriggered:
		return Info
	case AuthFailure, ExportViolation, AclDenied, TokenRevoked:
		return Warning
	case TlsHandshakeFailed, UnauthorizedOperation:
		return Critical
	default:
		return Info
	}
}

// Record is a single audit event.
type Record struct {
	ID          uint64
	EventType   EventType
	Severity    Severity
	ClientAddr  string
	Principal   string
	Resource    string
	Message     string
	TimestampMS int64
}

// Config controls what a Trail records and how much it retains.
type Config struct {
	MinSeverity Severity
	MaxRecords  int
	Enabled     bool
}

// DefaultConfig records everything, up to 10000 records.
func DefaultConfig() Config {
	return Config{MinSeverity: Info, MaxRecords: 10000, Enabled: true}
}

// Trail is an in-memory ring buffer of audit Records.
type Trail struct {
	clk clock.Clock

	mu      sync.Mutex
	cfg     Config
	records []Record
	nextID  uint64
}

// New constructs a Trail with the given configuration.
func New(cfg Config, clk clock.Clock) *Trail {
	return &Trail{cfg: cfg, clk: clk}
}

// Record appends an audit event and returns its assigned ID, or -1 if
// auditing is disabled or the event's severity is below the configured
// floor.
func (t *Trail) Record(eventType EventType, clientAddr, principal, resource, message string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cfg.Enabled {
		return -1
	}
	severity := eventType.Severity()
	if severity < t.cfg.MinSeverity {
		return -1
	}

	id := t.nextID
	t.nextID++

	t.records = append(t.records, Record{
		ID:          id,
		EventType:   eventType,
		Severity:    severity,
		ClientAddr:  clientAddr,
		Principal:   principal,
		Resource:    resource,
		Message:     message,
		TimestampMS: t.clk.Now().UnixMilli(),
	})

	if len(t.records) > t.cfg.MaxRecords {
		t.records = t.records[len(t.records)-t.cfg.MaxRecords:]
	}

	return int64(id)
}

// RecordsBySeverity returns every record with severity >= min.
func (t *Trail) RecordsBySeverity(min Severity) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	for _, r := range t.records {
		if r.Severity >= min {
			out = append(out, r)
		}
	}
	return out
}

// RecordsByType returns every record matching eventType.
func (t *Trail) RecordsByType(eventType EventType) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	for _, r := range t.records {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records currently stored.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// IsEmpty reports whether the trail holds no records.
func (t *Trail) IsEmpty() bool { return t.Len() == 0 }

// CriticalCount returns the number of Critical-severity records stored.
func (t *Trail) CriticalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, r := range t.records {
		if r.Severity == Critical {
			count++
		}
	}
	return count
}

// WarningCount returns the number of Warning-severity records stored.
func (t *Trail) WarningCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, r := range t.records {
		if r.Severity == Warning {
			count++
		}
	}
	return count
}

// Clear discards every stored record.
func (t *Trail) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}
