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

// Package conflict implements last-write-wins conflict resolution for
// cross-site replication (spec §4.16), with administrator alerting when
// manual resolution is required or a split-brain condition is detected.
package conflict

import (
	"context"
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/logger"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Resolver resolves conflicts with LWW semantics and keeps a log of every
// resolution for later audit and alerting (§4.16). Internally synchronized.
type Resolver struct {
	mu sync.Mutex

	clock   clock.Clock
	counter uint64
	records []model.ConflictRecord
}

// New constructs an empty Resolver.
func New(c clock.Clock) *Resolver {
	return &Resolver{clock: c}
}

// Resolve decides the winner between two conflicting writes to inode using
// last-write-wins semantics:
//  1. Higher timestamp wins.
//  2. Equal timestamps: higher sequence wins.
//  3. Equal timestamps and sequences: side A wins, but the conflict is
//     flagged ManualRequired since the tiebreak is arbitrary.
//
// sameData should be true when the caller has already determined (e.g. via
// matching fingerprint.Fingerprint) that both sides wrote identical content;
// in that case the record is classified SplitBrain regardless of the LWW
// outcome, since there is nothing left to reconcile.
func (r *Resolver) Resolve(ctx context.Context, inode uint64, a, b model.ConflictSide, sameData bool) model.ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.counter
	r.counter++

	var winner uint64
	var class model.ConflictClassification
	switch {
	case a.TimestampUS > b.TimestampUS:
		winner, class = a.Site, model.ResolvedByLWW
	case b.TimestampUS > a.TimestampUS:
		winner, class = b.Site, model.ResolvedByLWW
	case a.Seq > b.Seq:
		winner, class = a.Site, model.ResolvedByLWW
	case b.Seq > a.Seq:
		winner, class = b.Site, model.ResolvedByLWW
	default:
		winner, class = a.Site, model.ManualRequired
	}

	if sameData {
		class = model.SplitBrain
	}

	rec := model.ConflictRecord{
		ID:             id,
		Inode:          inode,
		A:              a,
		B:              b,
		Winner:         winner,
		Classification: class,
		ResolvedAt:     r.clock.Now(),
	}

	switch class {
	case model.ManualRequired:
		logger.Warnf(ctx, "conflict requires manual resolution: inode=%d conflict_id=%d ts_a=%d ts_b=%d seq_a=%d seq_b=%d",
			inode, id, a.TimestampUS, b.TimestampUS, a.Seq, b.Seq)
	case model.SplitBrain:
		logger.Errorf(ctx, "split-brain condition detected: inode=%d conflict_id=%d", inode, id)
	}

	r.records = append(r.records, rec)
	return rec
}

// AlertNeeded reports whether rec requires administrator attention.
func AlertNeeded(rec model.ConflictRecord) bool {
	return rec.Classification == model.ManualRequired || rec.Classification == model.SplitBrain
}

// ConflictsForInode returns every resolved record for inode, in resolution
// order.
func (r *Resolver) ConflictsForInode(inode uint64) []model.ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ConflictRecord
	for _, rec := range r.records {
		if rec.Inode == inode {
			out = append(out, rec)
		}
	}
	return out
}

// ConflictCount returns the total number of resolutions recorded.
func (r *Resolver) ConflictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// SplitBrainCount returns the number of resolutions classified SplitBrain.
func (r *Resolver) SplitBrainCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if rec.Classification == model.SplitBrain {
			n++
		}
	}
	return n
}
