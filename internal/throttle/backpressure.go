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

// Package throttle implements per-peer send throttling and a five-level
// backpressure signal derived from queue depth and consecutive error count
// (spec §4.10).
package throttle

import (
	"math"
	"sync"
)

// Level is one of the five backpressure levels, ordered None < Mild <
// Moderate < Severe < Halt.
type Level int

const (
	None Level = iota
	Mild
	Moderate
	Severe
	Halt
)

// SuggestedDelayMS returns the recommended per-batch delay for l. Halt
// returns math.MaxUint64, meaning "do not send".
func (l Level) SuggestedDelayMS() uint64 {
	switch l {
	case None:
		return 0
	case Mild:
		return 5
	case Moderate:
		return 50
	case Severe:
		return 500
	default:
		return math.MaxUint64
	}
}

// IsHalted reports whether l means sending must stop entirely.
func (l Level) IsHalted() bool { return l == Halt }

// IsActive reports whether any backpressure at all is being applied.
func (l Level) IsActive() bool { return l != None }

// BackpressureConfig sets the queue-depth and error-count thresholds for
// each level.
type BackpressureConfig struct {
	MildQueueDepth     uint64
	ModerateQueueDepth uint64
	SevereQueueDepth   uint64
	HaltQueueDepth     uint64
	ErrorCountModerate uint32
	ErrorCountSevere   uint32
	ErrorCountHalt     uint32
}

// DefaultBackpressureConfig matches the original implementation's
// defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		MildQueueDepth:     1_000,
		ModerateQueueDepth: 10_000,
		SevereQueueDepth:   100_000,
		HaltQueueDepth:     1_000_000,
		ErrorCountModerate: 3,
		ErrorCountSevere:   10,
		ErrorCountHalt:     20,
	}
}

// BackpressureController tracks backpressure state for one remote site.
type BackpressureController struct {
	mu                sync.Mutex
	cfg               BackpressureConfig
	queueDepth        uint64
	consecutiveErrors uint32
	forceHalted       bool
	lastLevel         Level
}

// NewBackpressureController constructs a controller at level None.
func NewBackpressureController(cfg BackpressureConfig) *BackpressureController {
	return &BackpressureController{cfg: cfg}
}

// SetQueueDepth records the observed pending-entry count.
func (c *BackpressureController) SetQueueDepth(depth uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
}

// RecordSuccess resets the consecutive-error counter.
func (c *BackpressureController) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors = 0
}

// RecordError increments the consecutive-error counter.
func (c *BackpressureController) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors++
}

// ForceHalt overrides every other signal with Halt until ClearHalt.
func (c *BackpressureController) ForceHalt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceHalted = true
}

// ClearHalt removes a previously forced halt.
func (c *BackpressureController) ClearHalt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceHalted = false
}

func queueLevel(cfg BackpressureConfig, depth uint64) Level {
	switch {
	case depth >= cfg.HaltQueueDepth:
		return Halt
	case depth >= cfg.SevereQueueDepth:
		return Severe
	case depth >= cfg.ModerateQueueDepth:
		return Moderate
	case depth >= cfg.MildQueueDepth:
		return Mild
	default:
		return None
	}
}

func errorLevel(cfg BackpressureConfig, errs uint32) Level {
	switch {
	case errs >= cfg.ErrorCountHalt:
		return Halt
	case errs >= cfg.ErrorCountSevere:
		return Severe
	case errs >= cfg.ErrorCountModerate:
		return Moderate
	default:
		return None
	}
}

// ComputeLevel recomputes and caches the current backpressure level as the
// max of the queue-depth-based and error-count-based levels.
func (c *BackpressureController) ComputeLevel() Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.forceHalted {
		c.lastLevel = Halt
		return Halt
	}

	ql := queueLevel(c.cfg, c.queueDepth)
	el := errorLevel(c.cfg, c.consecutiveErrors)
	level := ql
	if el > level {
		level = el
	}
	c.lastLevel = level
	return level
}

// CurrentLevel returns the last computed level without recomputing.
func (c *BackpressureController) CurrentLevel() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLevel
}

// QueueDepth returns the last observed queue depth.
func (c *BackpressureController) QueueDepth() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueDepth
}

// ConsecutiveErrors returns the current consecutive-error count.
func (c *BackpressureController) ConsecutiveErrors() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors
}

// BackpressureManager dispatches backpressure controllers keyed by peer
// site ID.
type BackpressureManager struct {
	mu            sync.Mutex
	defaultConfig BackpressureConfig
	perSite       map[uint64]*BackpressureController
}

// NewBackpressureManager constructs a manager using defaultConfig for
// sites registered via RegisterSite.
func NewBackpressureManager(defaultConfig BackpressureConfig) *BackpressureManager {
	return &BackpressureManager{defaultConfig: defaultConfig, perSite: make(map[uint64]*BackpressureController)}
}

// RegisterSite adds siteID with the manager's default config, if not
// already present.
func (m *BackpressureManager) RegisterSite(siteID uint64) {
	m.RegisterSiteWithConfig(siteID, m.defaultConfig)
}

// RegisterSiteWithConfig adds siteID with a site-specific config, if not
// already present.
func (m *BackpressureManager) RegisterSiteWithConfig(siteID uint64, cfg BackpressureConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perSite[siteID]; ok {
		return
	}
	m.perSite[siteID] = NewBackpressureController(cfg)
}

func (m *BackpressureManager) get(siteID uint64) (*BackpressureController, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.perSite[siteID]
	return c, ok
}

// Level computes and returns siteID's current backpressure level, or
// false if the site is not registered.
func (m *BackpressureManager) Level(siteID uint64) (Level, bool) {
	c, ok := m.get(siteID)
	if !ok {
		return None, false
	}
	return c.ComputeLevel(), true
}

// RecordSuccess resets siteID's consecutive-error counter, if registered.
func (m *BackpressureManager) RecordSuccess(siteID uint64) {
	if c, ok := m.get(siteID); ok {
		c.RecordSuccess()
	}
}

// RecordError increments siteID's consecutive-error counter, if
// registered.
func (m *BackpressureManager) RecordError(siteID uint64) {
	if c, ok := m.get(siteID); ok {
		c.RecordError()
	}
}

// SetQueueDepth updates siteID's observed queue depth, if registered.
func (m *BackpressureManager) SetQueueDepth(siteID, depth uint64) {
	if c, ok := m.get(siteID); ok {
		c.SetQueueDepth(depth)
	}
}

// ForceHalt forces siteID to Halt, if registered.
func (m *BackpressureManager) ForceHalt(siteID uint64) {
	if c, ok := m.get(siteID); ok {
		c.ForceHalt()
	}
}

// ClearHalt clears a forced halt for siteID, if registered.
func (m *BackpressureManager) ClearHalt(siteID uint64) {
	if c, ok := m.get(siteID); ok {
		c.ClearHalt()
	}
}

// HaltedSites returns every registered site currently at Halt.
func (m *BackpressureManager) HaltedSites() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var halted []uint64
	for siteID, c := range m.perSite {
		if c.ComputeLevel().IsHalted() {
			halted = append(halted, siteID)
		}
	}
	return halted
}

// RemoveSite forgets siteID entirely.
func (m *BackpressureManager) RemoveSite(siteID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perSite, siteID)
}
