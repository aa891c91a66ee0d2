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

package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/model"
)

func side(site, seq uint64, tsUS int64) model.ConflictSide {
	return model.ConflictSide{Site: site, Seq: seq, TimestampUS: tsUS}
}

func newResolver() *Resolver {
	return New(clock.NewSimulatedClock(time.Unix(0, 0)))
}

func TestLWWHigherTimestampWins(t *testing.T) {
	r := newResolver()
	rec := r.Resolve(context.Background(), 1, side(1, 10, 100), side(2, 20, 200), false)
	assert.Equal(t, uint64(2), rec.Winner)
	assert.Equal(t, model.ResolvedByLWW, rec.Classification)
}

func TestLWWEqualTimestampHigherSeqWins(t *testing.T) {
	r := newResolver()
	rec := r.Resolve(context.Background(), 1, side(1, 100, 100), side(2, 200, 100), false)
	assert.Equal(t, uint64(2), rec.Winner)
	assert.Equal(t, model.ResolvedByLWW, rec.Classification)
}

func TestLWWDeterministicTiebreakSiteAWins(t *testing.T) {
	r := newResolver()
	rec := r.Resolve(context.Background(), 1, side(1, 100, 100), side(2, 100, 100), false)
	assert.Equal(t, uint64(1), rec.Winner)
	assert.Equal(t, model.ManualRequired, rec.Classification)
}

func TestSameDataClassifiedSplitBrain(t *testing.T) {
	r := newResolver()
	rec := r.Resolve(context.Background(), 1, side(1, 10, 100), side(2, 20, 200), true)
	assert.Equal(t, model.SplitBrain, rec.Classification)
}

func TestAlertNeededForManualAndSplitBrain(t *testing.T) {
	assert.True(t, AlertNeeded(model.ConflictRecord{Classification: model.ManualRequired}))
	assert.True(t, AlertNeeded(model.ConflictRecord{Classification: model.SplitBrain}))
	assert.False(t, AlertNeeded(model.ConflictRecord{Classification: model.ResolvedByLWW}))
}

func TestConflictsForInodeFilters(t *testing.T) {
	r := newResolver()
	ctx := context.Background()
	r.Resolve(ctx, 1, side(1, 10, 100), side(2, 20, 200), false)
	r.Resolve(ctx, 2, side(1, 10, 100), side(2, 20, 200), false)
	r.Resolve(ctx, 1, side(1, 10, 100), side(2, 20, 200), false)

	assert.Len(t, r.ConflictsForInode(1), 2)
}

func TestConflictCountIncreases(t *testing.T) {
	r := newResolver()
	ctx := context.Background()
	assert.Equal(t, 0, r.ConflictCount())
	r.Resolve(ctx, 1, side(1, 10, 100), side(2, 20, 200), false)
	assert.Equal(t, 1, r.ConflictCount())
	r.Resolve(ctx, 2, side(1, 10, 100), side(2, 20, 200), false)
	assert.Equal(t, 2, r.ConflictCount())
}

func TestSplitBrainCount(t *testing.T) {
	r := newResolver()
	ctx := context.Background()
	r.Resolve(ctx, 1, side(1, 10, 100), side(2, 20, 200), false)
	r.Resolve(ctx, 2, side(1, 10, 100), side(2, 10, 100), false)
	assert.Equal(t, 0, r.SplitBrainCount())

	r.Resolve(ctx, 3, side(1, 10, 100), side(2, 10, 100), true)
	assert.Equal(t, 1, r.SplitBrainCount())
}

func TestNewResolverIsEmpty(t *testing.T) {
	r := newResolver()
	assert.Equal(t, 0, r.ConflictCount())
	assert.Equal(t, 0, r.SplitBrainCount())
}

func TestConflictsForInodeEmptyForUnknown(t *testing.T) {
	r := newResolver()
	assert.Empty(t, r.ConflictsForInode(999))
}
