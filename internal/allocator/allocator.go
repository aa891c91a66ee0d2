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

// Package allocator implements the buddy block allocator described in
// spec §4.1: one free set per size class, greedy startup carve-up,
// recursive split on allocate, buddy-merge on free.
package allocator

import (
	"sort"
	"sync"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Config parameterizes one allocator instance: the device it manages and
// its total capacity in 4 KiB units.
type Config struct {
	DeviceIdx     uint16
	TotalBlocks4K uint64
}

// ClassStats reports free-extent counts for one size class.
type ClassStats struct {
	Class        model.SizeClass
	FreeExtents  int
	FreeBlocks4K uint64
}

// Stats summarizes the allocator's free pool.
type Stats struct {
	PerClass         []ClassStats
	TotalFree4K      uint64
	TotalAllocated4K uint64
}

// classes indexed 0..3 = 4K, 64K, 1M, 64M, matching model.SizeClass's own
// iota order.
var classes = [4]model.SizeClass{model.Size4K, model.Size64K, model.Size1M, model.Size64M}

// Allocator is a buddy allocator for one device. Safe for concurrent use;
// every operation takes the internal mutex (§5).
type Allocator struct {
	mu sync.Mutex

	deviceIdx     uint16
	totalBlocks4K uint64

	free [4]map[uint64]struct{}

	totalAllocations uint64
	totalFrees       uint64
}

// New constructs an allocator and carves the device into the largest
// possible aligned extents greedily from the front.
func New(cfg Config) *Allocator {
	a := &Allocator{
		deviceIdx:     cfg.DeviceIdx,
		totalBlocks4K: cfg.TotalBlocks4K,
	}
	for i := range a.free {
		a.free[i] = make(map[uint64]struct{})
	}

	var offset uint64
	for offset < cfg.TotalBlocks4K {
		remaining := cfg.TotalBlocks4K - offset
		idx := 0
		size := uint64(1)
		for i := 3; i >= 0; i-- { // largest class first
			blocks := classes[i].Blocks4K()
			if offset%blocks == 0 && remaining >= blocks {
				idx = i
				size = blocks
				break
			}
		}
		a.free[idx][offset] = struct{}{}
		offset += size
	}

	return a
}

// Allocate pops the lowest-offset extent of class, splitting a larger
// class if the target free set is empty.
func (a *Allocator) Allocate(class model.SizeClass) (model.BlockRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := int(class)
	if len(a.free[idx]) == 0 {
		if err := a.splitRecursive(idx, idx+1); err != nil {
			return model.BlockRef{}, err
		}
	}

	offset, ok := a.popLowest(idx)
	if !ok {
		return model.BlockRef{}, claudeerr.New(claudeerr.OutOfSpace, "split did not yield a usable extent")
	}

	a.totalAllocations++
	return model.BlockRef{DeviceIdx: a.deviceIdx, Offset4K: offset, Class: class}, nil
}

func (a *Allocator) popLowest(idx int) (uint64, bool) {
	set := a.free[idx]
	if len(set) == 0 {
		return 0, false
	}
	var lowest uint64
	first := true
	for off := range set {
		if first || off < lowest {
			lowest = off
			first = false
		}
	}
	delete(set, lowest)
	return lowest, true
}

// splitRecursive walks up from currentIdx looking for a non-empty larger
// free set, splits its lowest extent entirely into classes[currentIdx-1]
// pieces, and recurses back down toward targetIdx.
func (a *Allocator) splitRecursive(targetIdx, currentIdx int) error {
	if currentIdx >= 4 {
		return claudeerr.New(claudeerr.OutOfSpace, "no larger size class has a free extent")
	}

	if len(a.free[currentIdx]) == 0 {
		return a.splitRecursive(targetIdx, currentIdx+1)
	}

	offset, _ := a.popLowest(currentIdx)

	smallerIdx := currentIdx - 1
	currentBlocks := classes[currentIdx].Blocks4K()
	smallerBlocks := classes[smallerIdx].Blocks4K()
	count := currentBlocks / smallerBlocks

	for i := uint64(0); i < count; i++ {
		a.free[smallerIdx][offset+i*smallerBlocks] = struct{}{}
	}

	if smallerIdx == targetIdx {
		return nil
	}
	return a.splitRecursive(targetIdx, smallerIdx)
}

// Free returns ref's extent to the free pool, then merges it into the
// next larger class once every same-class piece of that parent extent
// (its offset XOR size_in_4k buddy included) is free, iterating upward
// (§4.1, I5, §8 buddy-merge).
func (a *Allocator) Free(ref model.BlockRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := int(ref.Class)
	if ref.Offset4K >= a.totalBlocks4K || ref.Offset4K+ref.Class.Blocks4K() > a.totalBlocks4K {
		return claudeerr.New(claudeerr.AllocatorError, "block offset out of device range")
	}

	a.free[idx][ref.Offset4K] = struct{}{}
	a.totalFrees++

	a.mergeBuddies(idx, ref.Offset4K)
	return nil
}

func (a *Allocator) mergeBuddies(idx int, offset uint64) {
	if idx >= 3 {
		return
	}

	size := classes[idx].Blocks4K()
	parentIdx := idx + 1
	parentBlocks := classes[parentIdx].Blocks4K()
	parentOffset := offset &^ (parentBlocks - 1)
	if parentOffset+parentBlocks > a.totalBlocks4K {
		return
	}

	for child := parentOffset; child < parentOffset+parentBlocks; child += size {
		if _, ok := a.free[idx][child]; !ok {
			return
		}
	}
	for child := parentOffset; child < parentOffset+parentBlocks; child += size {
		delete(a.free[idx], child)
	}

	a.free[parentIdx][parentOffset] = struct{}{}

	a.mergeBuddies(parentIdx, parentOffset)
}

// Stats reports free extent counts per size class and running totals.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Stats
	var totalFree uint64
	for idx := 3; idx >= 0; idx-- {
		class := classes[idx]
		set := a.free[idx]
		blocks := uint64(len(set)) * class.Blocks4K()
		totalFree += blocks
		s.PerClass = append(s.PerClass, ClassStats{Class: class, FreeExtents: len(set), FreeBlocks4K: blocks})
	}
	s.TotalFree4K = totalFree
	s.TotalAllocated4K = a.totalBlocks4K - totalFree
	return s
}

// freeOffsets returns the sorted list of free offsets for a class; used
// only by tests.
func (a *Allocator) freeOffsets(class model.SizeClass) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint64, 0, len(a.free[int(class)]))
	for off := range a.free[int(class)] {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
