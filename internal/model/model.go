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

// Package model holds the data-model types shared across the metadata,
// storage and replication packages (spec §3), so that no single component
// package needs to import another just to name a shared struct.
package model

import (
	"fmt"
	"time"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
)

// RootInode is the distinguished constant identifying the filesystem root.
const RootInode uint64 = 1

// FileType enumerates the inode kinds.
type FileType uint8

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeSpecial
)

// Inode is the metadata record for one filesystem object.
type Inode struct {
	ID        uint64
	Type      FileType
	UID       uint32
	GID       uint32
	Mode      uint32
	Size      uint64
	LinkCount uint32
	ATime     time.Time
	MTime     time.Time
	CTime     time.Time

	// Generation is bumped on every mutation that could invalidate cached
	// path resolutions rooted at this inode (§4.5).
	Generation uint64
}

// DirEntry maps (parent inode, name) to (child inode, file type). Encoded
// on the wire/KV layer as "dirent/" || be64(parent) || "/" || name so a
// prefix scan over a parent yields entries in name order (§3).
type DirEntry struct {
	Parent uint64
	Name   string
	Child  uint64
	Type   FileType
}

// OpKind enumerates journal operation kinds.
type OpKind uint8

const (
	OpCreate OpKind = iota
	OpWrite
	OpUnlink
	OpRename
	OpSetattr
)

// JournalEntry is one ordered metadata mutation within a shard (§3).
type JournalEntry struct {
	Seq       uint64
	ShardID   uint32
	SourceSite uint64
	TimestampUS int64
	Inode     uint64
	Op        OpKind
	Payload   []byte
	// CRC is the CRC32 of the preceding fields, computed by the journal on
	// append and verified on read; it is never itself covered by the CRC.
	CRC uint32
}

// Cursor is a per-peer, per-shard replay position (§3). Cursors are totally
// ordered by (Peer, Shard) and must never regress (I2, §8).
type Cursor struct {
	Peer      uint64
	Shard     uint32
	LastAcked uint64
}

// Advance moves the cursor's replay position forward to seq. It rejects
// any seq at or below the current LastAcked, since cursors must never
// regress (I2, §8): a regressing ack would replay entries the peer has
// already applied.
func (c *Cursor) Advance(seq uint64) error {
	if seq <= c.LastAcked {
		return claudeerr.New(claudeerr.CursorRegression, fmt.Sprintf("seq %d <= current %d", seq, c.LastAcked))
	}
	c.LastAcked = seq
	return nil
}

// Checkpoint is a durable, strictly non-decreasing-generation snapshot of
// every cursor held by a site (§3).
type Checkpoint struct {
	SiteID     uint64
	Generation uint64
	WallTime   time.Time
	Cursors    []Cursor
}

// SizeClass is one of the four block size classes the allocator and zone
// manager operate on.
type SizeClass uint8

const (
	Size4K SizeClass = iota
	Size64K
	Size1M
	Size64M
)

// Blocks4K returns the size class expressed in 4 KiB units.
func (s SizeClass) Blocks4K() uint64 {
	switch s {
	case Size4K:
		return 1
	case Size64K:
		return 16
	case Size1M:
		return 256
	case Size64M:
		return 16384
	default:
		return 0
	}
}

// Bytes returns the size class in bytes.
func (s SizeClass) Bytes() uint64 {
	return s.Blocks4K() * 4096
}

// AllSizeClasses lists the four size classes from largest to smallest,
// the order the buddy allocator's startup carve-up and split path use.
var AllSizeClasses = [4]SizeClass{Size64M, Size1M, Size64K, Size4K}

// BlockRef identifies an allocated extent: device, offset in 4 KiB units,
// and size class. Valid iff Offset4K is aligned to Class.Blocks4K() and the
// extent lies fully within the device (I5, §3).
type BlockRef struct {
	DeviceIdx uint16
	Offset4K  uint64
	Class     SizeClass
}

// ZoneState is the lifecycle state of one zone on a sequential-write (ZNS)
// device (§3, §4.2).
type ZoneState uint8

const (
	ZoneEmpty ZoneState = iota
	ZoneOpen
	ZoneClosed
	ZoneFull
	ZoneReadOnly
	ZoneOffline
)

func (s ZoneState) String() string {
	switch s {
	case ZoneEmpty:
		return "Empty"
	case ZoneOpen:
		return "Open"
	case ZoneClosed:
		return "Closed"
	case ZoneFull:
		return "Full"
	case ZoneReadOnly:
		return "ReadOnly"
	case ZoneOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// ZoneDescriptor describes one zone of a ZNS device.
type ZoneDescriptor struct {
	Index        uint32
	StartOffset4K uint64
	Capacity4K   uint64
	WritePointer uint64 // relative to StartOffset4K, in 4 KiB units
	State        ZoneState
}

// Fingerprint is a content fingerprint: a CAS key plus four MinHash
// super-features (§3, §4.6).
type Fingerprint struct {
	Hash         [32]byte
	SuperFeatures [4]uint64
}

// SimilarTo reports whether two fingerprints are "similar": three or more
// matching super-features (§3, §4.6).
func (f Fingerprint) SimilarTo(o Fingerprint) bool {
	matches := 0
	for i := range f.SuperFeatures {
		if f.SuperFeatures[i] == o.SuperFeatures[i] {
			matches++
		}
	}
	return matches >= 3
}

// PathComponent is one segment of a resolved path, carrying the
// generation captured at resolution time.
type PathComponent struct {
	Name       string
	Inode      uint64
	Generation uint64
}

// ResolvedPath is a cached path resolution (§3, §4.5).
type ResolvedPath struct {
	Path       string
	Components []PathComponent
	FinalInode uint64
	CapturedAt time.Time
}

// ConflictClassification categorizes how a conflict between two updates to
// one inode was handled (§3, §4.16).
type ConflictClassification uint8

const (
	ResolvedByLWW ConflictClassification = iota
	ManualRequired
	SplitBrain
)

func (c ConflictClassification) String() string {
	switch c {
	case ResolvedByLWW:
		return "resolved-by-lww"
	case ManualRequired:
		return "manual-required"
	case SplitBrain:
		return "split-brain"
	default:
		return "unknown"
	}
}

// ConflictSide is one of the two contending (site, sequence, timestamp)
// triples in a ConflictRecord.
type ConflictSide struct {
	Site      uint64
	Seq       uint64
	TimestampUS int64
}

// ConflictRecord is a resolved (or pending-manual) conflict on one inode.
type ConflictRecord struct {
	ID             uint64
	Inode          uint64
	A, B           ConflictSide
	Winner         uint64
	Classification ConflictClassification
	ResolvedAt     time.Time
}

// MemberState is a membership manager's view of one node's liveness
// (§3, §4.17).
type MemberState uint8

const (
	MemberAlive MemberState = iota
	MemberSuspect
	MemberDead
)

func (s MemberState) String() string {
	switch s {
	case MemberAlive:
		return "Alive"
	case MemberSuspect:
		return "Suspect"
	case MemberDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// MemberInfo is the membership manager's record for one node.
type MemberInfo struct {
	NodeID        string
	Address       string
	State         MemberState
	LastHeartbeat time.Time
	JoinTime      time.Time
	Generation    uint64
}
