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

// Package failover implements the cross-site active-active failover
// state machine of spec §4.19: detection and recovery from site
// failures in a two-site active-active replication setup.
package failover

import (
	"context"

	"github.com/dirkpetersen/claudefs/internal/logger"
)

// StateKind enumerates the failover controller's states.
type StateKind int

const (
	StateNormal StateKind = iota
	StateDegraded
	StateFailoverActive
	StateRecovery
	StateSplitBrain
)

// State carries StateKind plus whichever site fields that kind needs:
// Degraded/Recovery set FailedSite/RecoveringSite, FailoverActive sets
// Primary/Standby; Normal and SplitBrain use none of them.
type State struct {
	Kind           StateKind
	FailedSite     uint64
	Primary        uint64
	Standby        uint64
	RecoveringSite uint64
}

// EventKind enumerates the events that can drive a state transition.
type EventKind int

const (
	EventSiteDown EventKind = iota
	EventSiteUp
	EventReplicationLagHigh
	EventManualFailover
	EventRecoveryComplete
)

// Event is one input to Controller.ProcessEvent.
type Event struct {
	Kind          EventKind
	SiteID        uint64
	DetectedAtNS  uint64
	LagNS         uint64
	TargetPrimary uint64
}

// Stats accumulates counts of every failover controller state transition.
type Stats struct {
	StateTransitions uint64
	FailoverCount    uint64
	RecoveryCount    uint64
	SplitBrainCount  uint64
}

// Controller drives the two-site failover state machine.
type Controller struct {
	state State
	stats Stats
	siteA uint64
	siteB uint64
}

// New constructs a Controller in StateNormal for the given site pair.
func New(siteA, siteB uint64) *Controller {
	return &Controller{state: State{Kind: StateNormal}, siteA: siteA, siteB: siteB}
}

// ProcessEvent applies event to the current state and returns the
// resulting state. Combinations the state machine does not recognize
// leave the state unchanged (but still count as a processed transition).
func (c *Controller) ProcessEvent(ctx context.Context, event Event) State {
	c.stats.StateTransitions++

	next := c.state

	switch {
	case c.state.Kind == StateNormal && event.Kind == EventSiteDown:
		c.stats.FailoverCount++
		logger.Warnf(ctx, "site %d down, transitioning to degraded", event.SiteID)
		next = State{Kind: StateDegraded, FailedSite: event.SiteID}

	case c.state.Kind == StateNormal && event.Kind == EventReplicationLagHigh:
		logger.Warnf(ctx, "replication lag high for site %d, transitioning to degraded", event.SiteID)
		next = State{Kind: StateDegraded, FailedSite: event.SiteID}

	case c.state.Kind == StateDegraded && event.Kind == EventSiteDown && event.SiteID != c.state.FailedSite:
		c.stats.SplitBrainCount++
		logger.Errorf(ctx, "second site %d down while degraded, split brain", event.SiteID)
		next = State{Kind: StateSplitBrain}

	case c.state.Kind == StateDegraded && event.Kind == EventSiteUp && event.SiteID == c.state.FailedSite:
		c.stats.RecoveryCount++
		next = State{Kind: StateNormal}

	case c.state.Kind == StateDegraded && event.Kind == EventManualFailover:
		standby := c.siteB
		if event.TargetPrimary == c.siteB {
			standby = c.siteA
		}
		next = State{Kind: StateFailoverActive, Primary: event.TargetPrimary, Standby: standby}

	case c.state.Kind == StateFailoverActive && event.Kind == EventRecoveryComplete:
		next = State{Kind: StateRecovery, RecoveringSite: event.SiteID}

	case c.state.Kind == StateRecovery && event.Kind == EventSiteUp:
		c.stats.RecoveryCount++
		next = State{Kind: StateNormal}
	}

	c.state = next
	return c.state
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Stats returns the controller's accumulated statistics.
func (c *Controller) Stats() Stats { return c.stats }

// IsDegraded reports whether the system is in any non-Normal state.
func (c *Controller) IsDegraded() bool {
	switch c.state.Kind {
	case StateDegraded, StateFailoverActive, StateRecovery, StateSplitBrain:
		return true
	default:
		return false
	}
}

// PrimarySite returns the site currently serving as primary under the
// controller's current state.
func (c *Controller) PrimarySite() uint64 {
	switch c.state.Kind {
	case StateFailoverActive:
		return c.state.Primary
	default:
		return c.siteA
	}
}
