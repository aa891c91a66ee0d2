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

package pathcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Scenario 4 (§8): insert "a/b" with component (b, ino=2, gen=1); bumping
// inode 2's generation then looking up "a/b" must miss and count a stale
// hit plus a TOCTOU detection.
func TestTOCTOUScenario(t *testing.T) {
	r := New(Config{Capacity: 128, MaxDepth: 64}, clock.NewSimulatedClock(time.Unix(0, 0)))

	resolved := model.ResolvedPath{
		Path: "a/b",
		Components: []model.PathComponent{
			{Name: "b", Inode: 2, Generation: 1},
		},
		FinalInode: 2,
	}
	r.Insert("a/b", resolved)

	_, hit := r.Lookup("a/b")
	require.True(t, hit)

	r.BumpGeneration(2)

	_, hit = r.Lookup("a/b")
	assert.False(t, hit)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.StaleHits)
	assert.Equal(t, uint64(1), stats.TOCTOUDetected)
}

func TestInvalidatePrefix(t *testing.T) {
	r := New(Config{Capacity: 128}, clock.NewSimulatedClock(time.Unix(0, 0)))
	r.Insert("a", model.ResolvedPath{Path: "a", FinalInode: 1})
	r.Insert("a/b", model.ResolvedPath{Path: "a/b", FinalInode: 2})
	r.Insert("a/b/c", model.ResolvedPath{Path: "a/b/c", FinalInode: 3})
	r.Insert("ax", model.ResolvedPath{Path: "ax", FinalInode: 4})

	r.InvalidatePrefix("a/b")

	_, hit := r.Lookup("a/b")
	assert.False(t, hit)
	_, hit = r.Lookup("a/b/c")
	assert.False(t, hit)
	_, hit = r.Lookup("a")
	assert.True(t, hit)
	_, hit = r.Lookup("ax")
	assert.True(t, hit)
}

func TestValidatePath(t *testing.T) {
	segs, err := ValidatePath("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, segs)

	_, err = ValidatePath("")
	assert.Error(t, err)

	_, err = ValidatePath("/a/b")
	assert.Error(t, err)

	_, err = ValidatePath("a/../b")
	assert.Error(t, err)
}

func TestCapacityEviction(t *testing.T) {
	r := New(Config{Capacity: 2}, clock.NewSimulatedClock(time.Unix(0, 0)))
	r.Insert("a", model.ResolvedPath{Path: "a", FinalInode: 1})
	r.Insert("b", model.ResolvedPath{Path: "b", FinalInode: 2})
	r.Insert("c", model.ResolvedPath{Path: "c", FinalInode: 3})

	count := 0
	for _, p := range []string{"a", "b", "c"} {
		if _, hit := r.Lookup(p); hit {
			count++
		}
	}
	assert.LessOrEqual(t, count, 2)
}
