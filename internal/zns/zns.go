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

// Package zns implements the sequential-write zone state machine for
// zoned-namespace devices (spec §4.2).
package zns

import (
	"fmt"
	"sync"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Config parameterizes one zone manager instance.
type Config struct {
	DeviceIdx     uint16
	NumZones      uint32
	ZoneSize4K    uint64
	MaxOpenZones  uint32
	MaxActiveZones uint32
}

// TotalCapacity4K returns the device's total capacity in 4 KiB units.
func (c Config) TotalCapacity4K() uint64 {
	return uint64(c.NumZones) * c.ZoneSize4K
}

// Manager tracks the state and write pointer of every zone on a device.
// Internally synchronized (§5).
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	zones []model.ZoneDescriptor
}

// New pre-initializes every zone as Empty at offset zoneIdx*zoneSize (§4.2).
func New(cfg Config) *Manager {
	zones := make([]model.ZoneDescriptor, cfg.NumZones)
	for i := range zones {
		zones[i] = model.ZoneDescriptor{
			Index:         uint32(i),
			StartOffset4K: uint64(i) * cfg.ZoneSize4K,
			Capacity4K:    cfg.ZoneSize4K,
			State:         model.ZoneEmpty,
		}
	}
	return &Manager{cfg: cfg, zones: zones}
}

func (m *Manager) zone(idx uint32) (*model.ZoneDescriptor, error) {
	if int(idx) >= len(m.zones) {
		return nil, claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("zone %d does not exist", idx))
	}
	return &m.zones[idx], nil
}

// Zone returns a copy of one zone's descriptor.
func (m *Manager) Zone(idx uint32) (model.ZoneDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(idx)
	if err != nil {
		return model.ZoneDescriptor{}, err
	}
	return *z, nil
}

func writable(z *model.ZoneDescriptor) bool {
	return (z.State == model.ZoneEmpty || z.State == model.ZoneOpen) && z.WritePointer < z.Capacity4K
}

// FindWritable prefers an Open zone with remaining capacity, falling back
// to the lowest-indexed Empty zone (§4.2).
func (m *Manager) FindWritable() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, z := range m.zones {
		if z.State == model.ZoneOpen && writable(&z) {
			return z.Index, true
		}
	}
	for _, z := range m.zones {
		if z.State == model.ZoneEmpty {
			return z.Index, true
		}
	}
	return 0, false
}

// Append requires the zone to be Empty or Open with n <= free capacity,
// advances the write pointer by n, and transitions Empty->Open and
// Open->Full as appropriate. Returns the absolute write offset in 4 KiB
// units (I4, §4.2).
func (m *Manager) Append(idx uint32, n uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zone(idx)
	if err != nil {
		return 0, err
	}
	if !writable(z) {
		return 0, claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("zone %d not writable in state %s", idx, z.State))
	}

	available := z.Capacity4K - z.WritePointer
	if n > available {
		return 0, claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("zone %d: requested %d blocks, only %d available", idx, n, available))
	}

	writeOffset := z.StartOffset4K + z.WritePointer
	z.WritePointer += n

	if z.State == model.ZoneEmpty {
		z.State = model.ZoneOpen
	}
	if z.WritePointer >= z.Capacity4K {
		z.State = model.ZoneFull
	}

	return writeOffset, nil
}

// Reset requires the zone to be {Closed, Full, ReadOnly} and clears the
// write pointer, transitioning to Empty.
func (m *Manager) Reset(idx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zone(idx)
	if err != nil {
		return err
	}
	if z.State != model.ZoneClosed && z.State != model.ZoneFull && z.State != model.ZoneReadOnly {
		return claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("cannot reset zone %d in state %s", idx, z.State))
	}
	z.State = model.ZoneEmpty
	z.WritePointer = 0
	return nil
}

// Finish forces Open->Full.
func (m *Manager) Finish(idx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(idx)
	if err != nil {
		return err
	}
	if z.State != model.ZoneOpen {
		return claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("cannot finish zone %d in state %s", idx, z.State))
	}
	z.State = model.ZoneFull
	return nil
}

// Close forces Open->Closed.
func (m *Manager) Close(idx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(idx)
	if err != nil {
		return err
	}
	if z.State != model.ZoneOpen {
		return claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("cannot close zone %d in state %s", idx, z.State))
	}
	z.State = model.ZoneClosed
	return nil
}

// Open lifts {Empty, Closed} -> Open.
func (m *Manager) Open(idx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(idx)
	if err != nil {
		return err
	}
	if z.State != model.ZoneEmpty && z.State != model.ZoneClosed {
		return claudeerr.New(claudeerr.InvalidZoneOperation, fmt.Sprintf("cannot open zone %d in state %s", idx, z.State))
	}
	z.State = model.ZoneOpen
	return nil
}

// GCCandidates returns the indices of every Full zone, the pool garbage
// collection draws from.
func (m *Manager) GCCandidates() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []uint32
	for _, z := range m.zones {
		if z.State == model.ZoneFull {
			out = append(out, z.Index)
		}
	}
	return out
}

// StateCounts returns the number of zones in each state, as a map keyed by
// state; states with no zones are absent and the map has no defined order.
func (m *Manager) StateCounts() map[model.ZoneState]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[model.ZoneState]int)
	for _, z := range m.zones {
		counts[z.State]++
	}
	return counts
}

// NumZones returns the number of zones managed.
func (m *Manager) NumZones() uint32 {
	return uint32(len(m.zones))
}
