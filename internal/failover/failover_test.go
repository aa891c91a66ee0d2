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

package failover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStartsNormal(t *testing.T) {
	c := New(1, 2)
	assert.Equal(t, StateNormal, c.State().Kind)
}

func TestSiteDownTransitionsToDegraded(t *testing.T) {
	c := New(1, 2)
	s := c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	assert.Equal(t, StateDegraded, s.Kind)
	assert.Equal(t, uint64(1), s.FailedSite)
}

func TestSiteUpRecoversToNormal(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	s := c.ProcessEvent(context.Background(), Event{Kind: EventSiteUp, SiteID: 1, DetectedAtNS: 2000})
	assert.Equal(t, StateNormal, s.Kind)
}

func TestReplicationLagTransitionsToDegraded(t *testing.T) {
	c := New(1, 2)
	s := c.ProcessEvent(context.Background(), Event{Kind: EventReplicationLagHigh, SiteID: 1, LagNS: 5_000_000_000})
	assert.Equal(t, StateDegraded, s.Kind)
	assert.Equal(t, uint64(1), s.FailedSite)
}

func TestManualFailoverTransitions(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	s := c.ProcessEvent(context.Background(), Event{Kind: EventManualFailover, TargetPrimary: 2})
	assert.Equal(t, StateFailoverActive, s.Kind)
	assert.Equal(t, uint64(2), s.Primary)
	assert.Equal(t, uint64(1), s.Standby)
}

func TestRecoveryCompleteTransitions(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventManualFailover, TargetPrimary: 2})
	s := c.ProcessEvent(context.Background(), Event{Kind: EventRecoveryComplete, SiteID: 1})
	assert.Equal(t, StateRecovery, s.Kind)
	assert.Equal(t, uint64(1), s.RecoveringSite)
}

func TestSecondSiteDownCausesSplitBrain(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	s := c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 2, DetectedAtNS: 2000})
	assert.Equal(t, StateSplitBrain, s.Kind)
}

func TestIsDegradedInNormalFalse(t *testing.T) {
	c := New(1, 2)
	assert.False(t, c.IsDegraded())
}

func TestIsDegradedInDegradedTrue(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	assert.True(t, c.IsDegraded())
}

func TestIsDegradedInFailoverTrue(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventManualFailover, TargetPrimary: 2})
	assert.True(t, c.IsDegraded())
}

func TestIsDegradedInSplitBrainTrue(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 2, DetectedAtNS: 2000})
	assert.True(t, c.IsDegraded())
}

func TestStatsFailoverCount(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	assert.Equal(t, uint64(1), c.Stats().FailoverCount)
}

func TestStatsRecoveryCount(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteUp, SiteID: 1, DetectedAtNS: 2000})
	assert.Equal(t, uint64(1), c.Stats().RecoveryCount)
}

func TestStatsSplitBrainCount(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 2, DetectedAtNS: 2000})
	assert.Equal(t, uint64(1), c.Stats().SplitBrainCount)
}

func TestStatsStateTransitionsCounted(t *testing.T) {
	c := New(1, 2)
	assert.Equal(t, uint64(0), c.Stats().StateTransitions)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	assert.Equal(t, uint64(1), c.Stats().StateTransitions)
}

func TestPrimarySiteNormal(t *testing.T) {
	c := New(1, 2)
	assert.Equal(t, uint64(1), c.PrimarySite())
}

func TestPrimarySiteFailover(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventManualFailover, TargetPrimary: 2})
	assert.Equal(t, uint64(2), c.PrimarySite())
}

func TestMultipleTransitionsStats(t *testing.T) {
	c := New(1, 2)
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 1000})
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteUp, SiteID: 1, DetectedAtNS: 2000})
	c.ProcessEvent(context.Background(), Event{Kind: EventSiteDown, SiteID: 1, DetectedAtNS: 3000})
	c.ProcessEvent(context.Background(), Event{Kind: EventManualFailover, TargetPrimary: 2})

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.StateTransitions)
	assert.Equal(t, uint64(2), stats.FailoverCount)
	assert.Equal(t, uint64(1), stats.RecoveryCount)
}
