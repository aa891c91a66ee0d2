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

// Package replication implements the full replication pipeline of spec
// §4.9: tail the journal, compact consecutive writes, admit the batch
// through a per-peer throttle, and fan it out to every remote site,
// tracking running statistics throughout.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/compress"
	"github.com/dirkpetersen/claudefs/internal/conduit"
	"github.com/dirkpetersen/claudefs/internal/model"
	"github.com/dirkpetersen/claudefs/internal/throttle"
)

// Config parameterizes a Pipeline.
type Config struct {
	LocalSiteID        uint64
	MaxBatchSize       int
	BatchTimeout       time.Duration
	CompactBeforeSend  bool
	ApplyUIDMapping    bool
	CompressBeforeSend bool
	CompressionLevel   compress.Level
}

// DefaultConfig matches the reference replication pipeline's defaults.
func DefaultConfig() Config {
	return Config{
		LocalSiteID:        1,
		MaxBatchSize:       1000,
		BatchTimeout:       100 * time.Millisecond,
		CompactBeforeSend:  true,
		ApplyUIDMapping:    false,
		CompressBeforeSend: true,
		CompressionLevel:   compress.Default,
	}
}

// Stats is a running snapshot of pipeline activity.
type Stats struct {
	EntriesTailed        uint64
	EntriesCompactedAway uint64
	BatchesDispatched    uint64
	TotalEntriesSent     uint64
	TotalBytesSent       uint64
	ThrottleStalls       uint64
	FanoutFailures       uint64
	BytesBeforeCompress  uint64
	BytesAfterCompress   uint64
}

// State is the lifecycle state of a Pipeline.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

// Pipeline tails journal entries, compacts, throttles and fans them out
// to every registered remote site.
type Pipeline struct {
	cfg Config

	mu    sync.Mutex
	state State
	stats Stats

	throttle *throttle.Throttle
	fanout   *conduit.Fanout
	codec    *compress.Codec
}

// New constructs a Pipeline in StateIdle. If cfg.CompressBeforeSend is set,
// New also builds the zstd codec used to shrink payloads before they are
// handed to the fanout. If building the codec fails, New reports no error
// and the Pipeline sends payloads uncompressed.
func New(cfg Config, th *throttle.Throttle, fo *conduit.Fanout) *Pipeline {
	p := &Pipeline{cfg: cfg, state: StateIdle, throttle: th, fanout: fo}
	if cfg.CompressBeforeSend {
		codec, err := compress.New(cfg.CompressionLevel)
		if err == nil {
			p.codec = codec
		}
	}
	return p
}

// Close releases resources held by the Pipeline, including its
// compression codec's decoder goroutines, if one was constructed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	codec := p.codec
	p.mu.Unlock()
	if codec != nil {
		codec.Close()
	}
}

// Start transitions Idle to Running; any other state is left unchanged.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateIdle {
		p.state = StateRunning
	}
}

// Stop advances the lifecycle one step toward Stopped: Running becomes
// Draining, Draining becomes Stopped, and any other state jumps directly
// to Stopped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateRunning:
		p.state = StateDraining
	case StateDraining:
		p.state = StateStopped
	default:
		p.state = StateStopped
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the running statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// UpdateThrottle replaces the Pipeline's shared Throttle with a new one
// built from cfg. Since Throttle's buckets are
// keyed per-site with a single shared Config, this resets every peer's
// budget to cfg; callers needing true per-site throttle configs should
// hold one Throttle per site.
func (p *Pipeline) UpdateThrottle(cfg throttle.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttle = throttle.New(cfg)
}

// ProcessBatch runs entries through compaction (if configured), throttle
// admission, and fanout dispatch, returning the number of sites the
// batch was successfully sent to. An empty input, or an input that
// compacts away to nothing, is a no-op that returns (0, nil).
func (p *Pipeline) ProcessBatch(entries []model.JournalEntry, now time.Time) (int, error) {
	p.mu.Lock()
	p.stats.EntriesTailed += uint64(len(entries))
	p.mu.Unlock()

	if len(entries) == 0 {
		return 0, nil
	}

	processed := entries
	if p.cfg.CompactBeforeSend {
		compacted, removed := conduit.Compact(entries)
		processed = compacted
		p.mu.Lock()
		p.stats.EntriesCompactedAway += uint64(removed)
		p.mu.Unlock()
	}

	if len(processed) == 0 {
		return 0, nil
	}

	if p.codec != nil {
		compressed, rawBytes, compressedBytes := p.codec.CompressEntries(processed)
		processed = compressed
		p.mu.Lock()
		p.stats.BytesBeforeCompress += rawBytes
		p.stats.BytesAfterCompress += compressedBytes
		p.mu.Unlock()
	}

	var totalBytes uint64
	for _, e := range processed {
		totalBytes += uint64(len(e.Payload)) + 64
	}

	siteIDs := p.fanout.SiteIDs()
	anyThrottled := false
	for _, siteID := range siteIDs {
		if !p.throttle.TrySend(siteID, totalBytes, uint64(len(processed)), now) {
			anyThrottled = true
		}
	}

	if anyThrottled {
		p.mu.Lock()
		p.stats.ThrottleStalls++
		p.mu.Unlock()
		return 0, claudeerr.New(claudeerr.Io, "replication batch throttled")
	}

	summary := p.fanout.Dispatch(context.Background(), processed)

	var entriesSent uint64
	for _, r := range summary.Results {
		if r.Success {
			entriesSent += uint64(r.EntriesSent)
		}
	}

	p.mu.Lock()
	p.stats.BatchesDispatched++
	p.stats.TotalEntriesSent += entriesSent
	p.stats.TotalBytesSent += totalBytes
	if summary.AnyFailed() {
		p.stats.FanoutFailures += uint64(summary.FailedSites)
	}
	p.mu.Unlock()

	return summary.SuccessfulSites, nil
}
