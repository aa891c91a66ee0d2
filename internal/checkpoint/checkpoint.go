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

// Package checkpoint persists the full set of per-(peer,shard) replay
// cursors under a single atomic write, and resumes from it on restart
// (spec §4.18). Cursors are kept totally ordered by (peer, shard) and
// Advance rejects any regression, matching model.Cursor's invariant.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

const magic uint32 = 0x43464b31 // "CFK1"

// Manager tracks the live cursor set for a site and durably snapshots it.
type Manager struct {
	mu         sync.Mutex
	siteID     uint64
	generation uint64
	cursors    map[cursorKey]model.Cursor
}

type cursorKey struct {
	peer  uint64
	shard uint32
}

// New constructs an empty Manager for siteID.
func New(siteID uint64) *Manager {
	return &Manager{siteID: siteID, cursors: make(map[cursorKey]model.Cursor)}
}

// Advance moves the (peer, shard) cursor to seq, creating it if this is
// the first entry seen for that pair. It rejects any regression.
func (m *Manager) Advance(peer uint64, shard uint32, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cursorKey{peer, shard}
	c, ok := m.cursors[key]
	if !ok {
		c = model.Cursor{Peer: peer, Shard: shard}
	}
	if err := c.Advance(seq); err != nil {
		return err
	}
	m.cursors[key] = c
	return nil
}

// Cursors returns a copy of every tracked cursor, ordered by (peer, shard).
func (m *Manager) Cursors() []model.Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedCursorsLocked()
}

func (m *Manager) sortedCursorsLocked() []model.Cursor {
	out := make([]model.Cursor, 0, len(m.cursors))
	for _, c := range m.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Shard < out[j].Shard
	})
	return out
}

// Persist writes every tracked cursor to path in one atomic rename,
// bumping the checkpoint's generation and stamping it with clk.Now().
func (m *Manager) Persist(path string, clk clock.Clock) error {
	m.mu.Lock()
	m.generation++
	cp := model.Checkpoint{
		SiteID:     m.siteID,
		Generation: m.generation,
		WallTime:   clk.Now(),
		Cursors:    m.sortedCursorsLocked(),
	}
	m.mu.Unlock()

	buf, err := Encode(cp)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, buf, 0o644); err != nil {
		return claudeerr.Wrap(claudeerr.Io, err, fmt.Sprintf("atomic checkpoint write to %s", path))
	}
	return nil
}

// Load reads and decodes the checkpoint at path, replacing the
// Manager's entire in-memory cursor set with what it contains. Callers
// use this once at startup to resume from the last durable checkpoint.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return claudeerr.Wrap(claudeerr.Io, err, fmt.Sprintf("reading checkpoint %s", path))
	}
	cp, err := Decode(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.siteID = cp.SiteID
	m.generation = cp.Generation
	m.cursors = make(map[cursorKey]model.Cursor, len(cp.Cursors))
	for _, c := range cp.Cursors {
		m.cursors[cursorKey{c.Peer, c.Shard}] = c
	}
	return nil
}

// Generation returns the current checkpoint generation: the value restored
// by the last Load (0 if none), plus one for every Persist call since,
// including calls whose write failed.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Encode produces the compact deterministic binary encoding of cp
// required by §6's "checkpoints/cursors via compact deterministic
// binary encoding" wire format: a fixed header followed by one fixed
// record per cursor, no padding, fields in declaration order.
func Encode(cp model.Checkpoint) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, magic); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, cp.SiteID); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, cp.Generation); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, cp.WallTime.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(cp.Cursors))); err != nil {
		return nil, err
	}
	for _, c := range cp.Cursors {
		if err := binary.Write(buf, binary.BigEndian, c.Peer); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.BigEndian, c.Shard); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.BigEndian, c.LastAcked); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode parses the encoding produced by Encode.
func Decode(data []byte) (model.Checkpoint, error) {
	r := bytes.NewReader(data)

	var gotMagic uint32
	if err := binary.Read(r, binary.BigEndian, &gotMagic); err != nil {
		return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidMagic, err, "reading checkpoint magic")
	}
	if gotMagic != magic {
		return model.Checkpoint{}, claudeerr.New(claudeerr.InvalidMagic, fmt.Sprintf("checkpoint magic mismatch: got %#x want %#x", gotMagic, magic))
	}

	var cp model.Checkpoint
	var wallTimeUnixNS int64
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &cp.SiteID); err != nil {
		return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading checkpoint site id")
	}
	if err := binary.Read(r, binary.BigEndian, &cp.Generation); err != nil {
		return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading checkpoint generation")
	}
	if err := binary.Read(r, binary.BigEndian, &wallTimeUnixNS); err != nil {
		return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading checkpoint wall time")
	}
	cp.WallTime = time.Unix(0, wallTimeUnixNS).UTC()
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading checkpoint cursor count")
	}

	cp.Cursors = make([]model.Cursor, 0, count)
	for i := uint32(0); i < count; i++ {
		var c model.Cursor
		if err := binary.Read(r, binary.BigEndian, &c.Peer); err != nil {
			return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading cursor peer")
		}
		if err := binary.Read(r, binary.BigEndian, &c.Shard); err != nil {
			return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading cursor shard")
		}
		if err := binary.Read(r, binary.BigEndian, &c.LastAcked); err != nil {
			return model.Checkpoint{}, claudeerr.Wrap(claudeerr.InvalidFrame, err, "reading cursor last-acked")
		}
		cp.Cursors = append(cp.Cursors, c)
	}
	return cp, nil
}
