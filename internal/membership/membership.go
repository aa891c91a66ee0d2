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

// Package membership implements a SWIM-like cluster membership manager:
// Alive/Suspect/Dead state transitions, generation bumps, and a drainable
// event buffer for consumers such as shard rebalancing (spec §4.17).
package membership

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// EventKind discriminates Event.
type EventKind int

const (
	NodeJoined EventKind = iota
	NodeSuspected
	NodeDead
	NodeRecovered
)

// Event is emitted on every membership state change.
type Event struct {
	Kind   EventKind
	NodeID string
}

// Manager tracks cluster membership and emits events for consumers to
// drain.
type Manager struct {
	clock       clock.Clock
	localNodeID string

	mu      sync.Mutex
	members map[string]*model.MemberInfo
	events  []Event
}

// New constructs a Manager for localNodeID, using c to stamp timestamps.
func New(localNodeID string, c clock.Clock) *Manager {
	return &Manager{clock: c, localNodeID: localNodeID, members: make(map[string]*model.MemberInfo)}
}

func saturatingAdd(v uint64) uint64 {
	if v == ^uint64(0) {
		return v
	}
	return v + 1
}

// Join adds nodeID to the cluster as Alive and emits NodeJoined.
func (m *Manager) Join(nodeID, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.members[nodeID] = &model.MemberInfo{
		NodeID: nodeID, Address: address, State: model.MemberAlive,
		LastHeartbeat: now, JoinTime: now, Generation: 1,
	}
	m.events = append(m.events, Event{Kind: NodeJoined, NodeID: nodeID})
}

// Leave removes nodeID from the cluster, emitting NodeDead iff it existed.
func (m *Manager) Leave(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.members[nodeID]
	if existed {
		delete(m.members, nodeID)
		m.events = append(m.events, Event{Kind: NodeDead, NodeID: nodeID})
	}
	return existed
}

// Suspect promotes nodeID from Alive to Suspect, bumping its generation
// and emitting NodeSuspected. A no-op for an already-Dead node.
func (m *Manager) Suspect(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if member.State != model.MemberDead {
		member.State = model.MemberSuspect
		member.Generation = saturatingAdd(member.Generation)
		m.events = append(m.events, Event{Kind: NodeSuspected, NodeID: nodeID})
	}
	return nil
}

// ConfirmAlive restores a Suspect node to Alive (emitting NodeRecovered) or
// refreshes an already-Alive node's heartbeat.
func (m *Manager) ConfirmAlive(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	switch member.State {
	case model.MemberSuspect:
		member.State = model.MemberAlive
		member.Generation = saturatingAdd(member.Generation)
		m.events = append(m.events, Event{Kind: NodeRecovered, NodeID: nodeID})
	case model.MemberAlive:
		member.LastHeartbeat = m.clock.Now()
	}
	return nil
}

// MarkDead marks nodeID Dead, bumping its generation and emitting
// NodeDead. A no-op if already Dead.
func (m *Manager) MarkDead(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if member.State != model.MemberDead {
		member.State = model.MemberDead
		member.Generation = saturatingAdd(member.Generation)
		m.events = append(m.events, Event{Kind: NodeDead, NodeID: nodeID})
	}
	return nil
}

// Heartbeat refreshes nodeID's last-heartbeat timestamp.
func (m *Manager) Heartbeat(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	member.LastHeartbeat = m.clock.Now()
	return nil
}

// AliveNodes returns every node currently Alive, sorted by ID.
func (m *Manager) AliveNodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var alive []string
	for id, member := range m.members {
		if member.State == model.MemberAlive {
			alive = append(alive, id)
		}
	}
	sort.Strings(alive)
	return alive
}

// AllMembers returns a snapshot of every known member.
func (m *Manager) AllMembers() []model.MemberInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.MemberInfo, 0, len(m.members))
	for _, member := range m.members {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// MemberCount returns the total tracked member count, including Suspect
// and Dead nodes.
func (m *Manager) MemberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

// AliveCount returns the number of Alive members.
func (m *Manager) AliveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, member := range m.members {
		if member.State == model.MemberAlive {
			n++
		}
	}
	return n
}

// GetMember returns nodeID's info, if known.
func (m *Manager) GetMember(nodeID string) (model.MemberInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[nodeID]
	if !ok {
		return model.MemberInfo{}, false
	}
	return *member, true
}

// DrainEvents returns and clears every pending membership event.
func (m *Manager) DrainEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.events
	m.events = nil
	return drained
}
