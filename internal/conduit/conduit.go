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

// Package conduit implements the point-to-point authenticated channel and
// parallel fanout of spec §4.8: a conduit carries ordered EntryBatch
// values to one remote site, each tagged by batchauth; a Fanout holds the
// peer→conduit map and dispatches a batch to every peer concurrently,
// collecting a per-peer success/failure summary.
package conduit

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dirkpetersen/claudefs/internal/batchauth"
	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// EntryBatch is an ordered set of journal entries authenticated as coming
// from SourceSite at sequence BatchSeq, with the originating site tracked
// separately so a receiver can re-fanout without attributing the hop to
// itself.
type EntryBatch struct {
	SourceSite uint64
	Originator uint64
	BatchSeq   uint64
	Entries    []model.JournalEntry
	Tag        batchauth.Tag
}

// Conduit is a point-to-point logical channel from a local site to one
// remote peer, backed by an in-memory queue. A production deployment
// would back Send/Receive with an authenticated network connection
// instead; the queue here gives the replication pipeline and its tests a
// transport-agnostic peer.
type Conduit struct {
	localSite uint64
	peerSite  uint64
	auth      *batchauth.Authenticator
	seq       atomic.Uint64

	out chan<- EntryBatch
	in  <-chan EntryBatch
}

// NewPair constructs two Conduits wired to each other: sends on one
// arrive as receives on the other. Both ends share key, signing as their
// own site id.
func NewPair(localSite, peerSite uint64, key batchauth.Key) (*Conduit, *Conduit) {
	ch1 := make(chan EntryBatch, 64)
	ch2 := make(chan EntryBatch, 64)

	a := &Conduit{
		localSite: localSite, peerSite: peerSite,
		auth: batchauth.New(key, localSite), out: ch1, in: ch2,
	}
	b := &Conduit{
		localSite: peerSite, peerSite: localSite,
		auth: batchauth.New(key, peerSite), out: ch2, in: ch1,
	}
	return a, b
}

// PeerID returns the remote site this conduit carries traffic to.
func (c *Conduit) PeerID() uint64 { return c.peerSite }

// Send signs and enqueues entries as a new batch, assigning the next
// per-conduit sequence number.
func (c *Conduit) Send(ctx context.Context, entries []model.JournalEntry, originator uint64) error {
	seq := c.seq.Add(1)
	tag := c.auth.SignBatch(c.localSite, seq, entries)
	batch := EntryBatch{SourceSite: c.localSite, Originator: originator, BatchSeq: seq, Entries: entries, Tag: tag}

	select {
	case c.out <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next batch and verifies its tag before
// returning it. A failed verification returns AuthInvalid rather than
// the batch.
func (c *Conduit) Receive(ctx context.Context) (EntryBatch, error) {
	select {
	case batch := <-c.in:
		if !c.auth.VerifyBatch(batch.Tag, batch.SourceSite, batch.BatchSeq, batch.Entries) {
			return EntryBatch{}, claudeerr.New(claudeerr.AuthInvalid, "batch tag invalid")
		}
		return batch, nil
	case <-ctx.Done():
		return EntryBatch{}, ctx.Err()
	}
}

// PeerResult is one peer's outcome from a Fanout.Dispatch call.
type PeerResult struct {
	PeerID      uint64
	Success     bool
	EntriesSent int
	Err         error
}

// Summary aggregates every peer's PeerResult from one dispatch.
type Summary struct {
	SuccessfulSites int
	FailedSites     int
	Results         []PeerResult
}

// AnyFailed reports whether at least one peer failed.
func (s Summary) AnyFailed() bool { return s.FailedSites > 0 }

// Fanout holds a peer→Conduit map and dispatches batches to every peer in
// parallel (spec §4.8).
type Fanout struct {
	localSite uint64

	mu    sync.Mutex
	peers map[uint64]*Conduit
}

// NewFanout constructs a Fanout for localSite with no peers registered.
func NewFanout(localSite uint64) *Fanout {
	return &Fanout{localSite: localSite, peers: make(map[uint64]*Conduit)}
}

// AddConduit registers c as the outbound path to its peer.
func (f *Fanout) AddConduit(c *Conduit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[c.PeerID()] = c
}

// RemoveConduit forgets peerID's conduit.
func (f *Fanout) RemoveConduit(peerID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, peerID)
}

// SiteIDs returns every registered peer id.
func (f *Fanout) SiteIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, 0, len(f.peers))
	for id := range f.peers {
		ids = append(ids, id)
	}
	return ids
}

// Dispatch sends entries to every registered peer concurrently and
// collects a Summary. A single peer's failure does not prevent delivery
// to the others.
func (f *Fanout) Dispatch(ctx context.Context, entries []model.JournalEntry) Summary {
	f.mu.Lock()
	peers := make([]*Conduit, 0, len(f.peers))
	for _, c := range f.peers {
		peers = append(peers, c)
	}
	f.mu.Unlock()

	results := make([]PeerResult, len(peers))
	var eg errgroup.Group
	for i, c := range peers {
		i, c := i, c
		eg.Go(func() error {
			err := c.Send(ctx, entries, f.localSite)
			results[i] = PeerResult{PeerID: c.PeerID(), Success: err == nil, EntriesSent: len(entries), Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	summary := Summary{Results: results}
	for _, r := range results {
		if r.Success {
			summary.SuccessfulSites++
		} else {
			summary.FailedSites++
		}
	}
	return summary
}
