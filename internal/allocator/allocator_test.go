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

package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Scenario 1 (§8): a 64 MiB device (16384 4 KiB blocks).
func TestAllocatorStress(t *testing.T) {
	a := New(Config{DeviceIdx: 0, TotalBlocks4K: 16384})

	ref, err := a.Allocate(model.Size64M)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ref.Offset4K)

	_, err = a.Allocate(model.Size64M)
	assert.ErrorIs(t, err, claudeerr.New(claudeerr.OutOfSpace, ""))

	require.NoError(t, a.Free(ref))
	stats := a.Stats()
	assert.Equal(t, uint64(16384), stats.TotalFree4K)

	var refs []model.BlockRef
	for i := 0; i < 4; i++ {
		r, err := a.Allocate(model.Size1M)
		require.NoError(t, err)
		refs = append(refs, r)
	}
	for i := 0; i < 2; i++ {
		r, err := a.Allocate(model.Size64K)
		require.NoError(t, err)
		refs = append(refs, r)
	}
	for i := 0; i < 7; i++ {
		r, err := a.Allocate(model.Size4K)
		require.NoError(t, err)
		refs = append(refs, r)
	}

	require.Len(t, refs, 13)
	for _, r := range refs {
		assert.Equal(t, uint64(0), r.Offset4K%r.Class.Blocks4K(), "offset must be aligned to its size class")
	}

	for _, r := range refs {
		require.NoError(t, a.Free(r))
	}
	stats = a.Stats()
	assert.Equal(t, uint64(16384), stats.TotalFree4K)
}

// Scenario 2 (§8): on a 1 MiB device, two 64 KiB allocations merge back
// into one 1 MiB free block regardless of free order.
func TestBuddyMerge(t *testing.T) {
	for _, freeOrder := range [][2]int{{0, 1}, {1, 0}} {
		a := New(Config{DeviceIdx: 0, TotalBlocks4K: 256}) // 1 MiB

		r1, err := a.Allocate(model.Size64K)
		require.NoError(t, err)
		r2, err := a.Allocate(model.Size64K)
		require.NoError(t, err)

		assert.NotEqual(t, r1.Offset4K, r2.Offset4K)

		refs := [2]model.BlockRef{r1, r2}
		require.NoError(t, a.Free(refs[freeOrder[0]]))
		require.NoError(t, a.Free(refs[freeOrder[1]]))

		offsets := a.freeOffsets(model.Size1M)
		require.Len(t, offsets, 1)
		assert.Equal(t, uint64(0), offsets[0])

		stats := a.Stats()
		assert.Equal(t, uint64(256), stats.TotalFree4K)
	}
}

func TestAllocatorAlignment(t *testing.T) {
	a := New(Config{DeviceIdx: 0, TotalBlocks4K: 16384})
	for i := 0; i < 50; i++ {
		r, err := a.Allocate(model.Size4K)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), r.Offset4K%r.Class.Blocks4K())
	}
}

func TestAllocatorRoundTrip(t *testing.T) {
	a := New(Config{DeviceIdx: 0, TotalBlocks4K: 16384})
	start := a.Stats().TotalFree4K

	var refs []model.BlockRef
	for i := 0; i < 8; i++ {
		r, err := a.Allocate(model.Size1M)
		require.NoError(t, err)
		refs = append(refs, r)
	}
	for _, r := range refs {
		require.NoError(t, a.Free(r))
	}

	assert.Equal(t, start, a.Stats().TotalFree4K)
}

func TestOutOfSpace(t *testing.T) {
	a := New(Config{DeviceIdx: 0, TotalBlocks4K: 1}) // single 4K block
	_, err := a.Allocate(model.Size4K)
	require.NoError(t, err)

	_, err = a.Allocate(model.Size4K)
	var ce *claudeerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, claudeerr.OutOfSpace, ce.Kind)
}
