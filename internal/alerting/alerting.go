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

// Package alerting compares live metrics against threshold rules and
// tracks each rule's Ok/Firing/Resolved transitions (spec §4.20).
package alerting

import (
	"fmt"

	"github.com/dirkpetersen/claudefs/clock"
)

// Severity classifies how urgently an alert needs attention.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "critical"
	}
}

// Comparison is the operator an AlertRule applies to its metric.
type Comparison int

const (
	GreaterThan Comparison = iota
	LessThan
	Equal
)

// Rule defines one threshold condition over a named metric.
type Rule struct {
	Name        string
	Description string
	Severity    Severity
	Metric      string
	Threshold   float64
	Comparison  Comparison
	ForSecs     uint64
}

// Evaluate reports whether value trips the rule's condition.
func (r Rule) Evaluate(value float64) bool {
	switch r.Comparison {
	case GreaterThan:
		return value > r.Threshold
	case LessThan:
		return value < r.Threshold
	default:
		return value == r.Threshold
	}
}

// State is one of an Alert's lifecycle states.
type State int

const (
	Ok State = iota
	Firing
	Resolved
)

// Alert tracks one Rule's live status.
type Alert struct {
	Rule        Rule
	State       State
	Value       float64
	FiringSince int64 // Unix seconds, 0 if never fired
	ResolvedAt  int64 // Unix seconds, 0 if not resolved
	Message     string
}

func newAlert(rule Rule, value float64) Alert {
	return Alert{Rule: rule, State: Ok, Value: value, Message: formatMessage(rule, value)}
}

func formatMessage(rule Rule, value float64) string {
	return fmt.Sprintf("%s: %s (value: %.2f)", rule.Name, rule.Description, value)
}

func (a Alert) IsFiring() bool   { return a.State == Firing }
func (a Alert) IsResolved() bool { return a.State == Resolved }

// AgeSecs returns how long the alert has been firing, as of now.
func (a Alert) AgeSecs(now int64) uint64 {
	if a.FiringSince == 0 {
		return 0
	}
	if now < a.FiringSince {
		return 0
	}
	return uint64(now - a.FiringSince)
}

// DefaultRules mirrors the replication cluster's built-in alert set.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "NodeOffline", Description: "Storage node is offline", Severity: SeverityCritical, Metric: "nodes_healthy", Threshold: 1.0, Comparison: LessThan, ForSecs: 60},
		{Name: "HighReplicationLag", Description: "Replication lag exceeds 60 seconds", Severity: SeverityWarning, Metric: "replication_lag_secs", Threshold: 60.0, Comparison: GreaterThan, ForSecs: 30},
		{Name: "HighCapacityUsage", Description: "Cluster capacity usage exceeds 90%", Severity: SeverityCritical, Metric: "capacity_used_ratio", Threshold: 0.90, Comparison: GreaterThan, ForSecs: 300},
		{Name: "HighWriteLatency", Description: "Write latency p99 exceeds 10ms", Severity: SeverityWarning, Metric: "latency_write_us_p99", Threshold: 10000.0, Comparison: GreaterThan, ForSecs: 120},
	}
}

// Manager evaluates a fixed set of rules against live metric snapshots.
type Manager struct {
	clk    clock.Clock
	rules  []Rule
	active map[string]Alert
}

// New constructs a Manager over rules.
func New(rules []Rule, clk clock.Clock) *Manager {
	return &Manager{clk: clk, rules: rules, active: make(map[string]Alert)}
}

// WithDefaultRules constructs a Manager using DefaultRules.
func WithDefaultRules(clk clock.Clock) *Manager {
	return New(DefaultRules(), clk)
}

// Evaluate checks every rule against metrics and returns the alerts
// whose State changed as a result (Ok->Firing, Firing->Resolved, and a
// Resolved alert moving on to Ok or back to Firing).
func (m *Manager) Evaluate(metrics map[string]float64) []Alert {
	var changed []Alert
	now := m.clk.Now().Unix()

	for _, rule := range m.rules {
		value := metrics[rule.Metric]
		conditionMet := rule.Evaluate(value)

		alert, ok := m.active[rule.Name]
		if !ok {
			alert = newAlert(rule, value)
		}
		previousState := alert.State
		alert.Value = value
		alert.Rule = rule
		alert.Message = formatMessage(rule, value)

		switch {
		case conditionMet:
			if alert.FiringSince == 0 {
				alert.FiringSince = now
			}
			alert.State = Firing
		case alert.State == Firing:
			alert.State = Resolved
			alert.ResolvedAt = now
		default:
			alert.State = Ok
		}

		m.active[rule.Name] = alert
		if alert.State != previousState {
			changed = append(changed, alert)
		}
	}

	return changed
}

// FiringAlerts returns every alert currently in the Firing state.
func (m *Manager) FiringAlerts() []Alert {
	var out []Alert
	for _, a := range m.active {
		if a.IsFiring() {
			out = append(out, a)
		}
	}
	return out
}

// AllAlerts returns every tracked alert, firing or not.
func (m *Manager) AllAlerts() []Alert {
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	return out
}

// CountBySeverity tallies currently-firing alerts by severity label.
func (m *Manager) CountBySeverity() map[string]int {
	counts := make(map[string]int)
	for _, a := range m.active {
		if a.IsFiring() {
			counts[a.Rule.Severity.String()]++
		}
	}
	return counts
}

// GCResolved drops resolved alerts older than maxAgeSecs.
func (m *Manager) GCResolved(maxAgeSecs uint64) {
	now := m.clk.Now().Unix()
	for name, a := range m.active {
		if !a.IsResolved() || a.ResolvedAt == 0 {
			continue
		}
		if uint64(now-a.ResolvedAt) >= maxAgeSecs {
			delete(m.active, name)
		}
	}
}
