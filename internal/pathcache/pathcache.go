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

// Package pathcache implements the generation-keyed path resolution cache
// of spec §4.5: a bounded memoization from a validated relative path to a
// ResolvedPath, invalidated not by reverse-indexing every cached entry but
// by comparing each component's captured generation against its inode's
// current generation on lookup.
package pathcache

import (
	"strings"
	"sync"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Config parameterizes one resolver cache.
type Config struct {
	MaxDepth int
	Capacity int
}

// Stats tracks cache effectiveness, matching the original implementation's
// counters exactly (spec §4.5, §8 scenario 4).
type Stats struct {
	CacheHits      uint64
	CacheMisses    uint64
	StaleHits      uint64
	TOCTOUDetected uint64
	Invalidations  uint64
}

// Resolver is a bounded, generation-keyed path resolution cache.
// Internally synchronized (§5).
type Resolver struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	cache       map[string]model.ResolvedPath
	generations map[uint64]uint64
	stats       Stats
}

// New constructs a resolver cache. capacity <= 0 means unbounded.
func New(cfg Config, c clock.Clock) *Resolver {
	return &Resolver{
		cfg:         cfg,
		clock:       c,
		cache:       make(map[string]model.ResolvedPath),
		generations: make(map[uint64]uint64),
	}
}

// generation returns the current tracked generation for inode, defaulting
// to 0 if never bumped.
func (r *Resolver) generation(inode uint64) uint64 {
	return r.generations[inode]
}

func isStale(rp model.ResolvedPath, gens map[uint64]uint64) bool {
	for _, c := range rp.Components {
		if gens[c.Inode] != c.Generation {
			return true
		}
	}
	return false
}

// Insert caches resolved under path, evicting an arbitrary existing entry
// if the resolver is at capacity (§4.5).
func (r *Resolver) Insert(path string, resolved model.ResolvedPath) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Capacity > 0 && len(r.cache) >= r.cfg.Capacity {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}

	for _, c := range resolved.Components {
		if _, ok := r.generations[c.Inode]; !ok {
			r.generations[c.Inode] = c.Generation
		}
	}

	r.cache[path] = resolved
}

// Lookup returns the cached resolution for path, or (_, false) on a miss.
// A cache hit whose components no longer match their current generation
// counts as a miss (a "stale hit"), is purged, and bumps StaleHits (I6,
// §4.5, §8 scenario 4).
func (r *Resolver) Lookup(path string) (model.ResolvedPath, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.cache[path]
	if !ok {
		r.stats.CacheMisses++
		return model.ResolvedPath{}, false
	}

	if isStale(rp, r.generations) {
		r.stats.StaleHits++
		delete(r.cache, path)
		return model.ResolvedPath{}, false
	}

	r.stats.CacheHits++
	return rp, true
}

// BumpGeneration increments inode's generation counter and returns the new
// value. Any cached entry whose final inode equals inode and whose
// captured generation for that inode now disagrees is counted as a TOCTOU
// event (it is not evicted here — the next Lookup will find it stale).
func (r *Resolver) BumpGeneration(inode uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	newGen := r.generations[inode] + 1
	r.generations[inode] = newGen

	for _, rp := range r.cache {
		if rp.FinalInode != inode {
			continue
		}
		for _, c := range rp.Components {
			if c.Inode == inode && c.Generation != newGen {
				r.stats.TOCTOUDetected++
				break
			}
		}
	}

	return newGen
}

// InvalidatePrefix evicts the exact key p and any key beginning with
// p + "/" (§4.5).
func (r *Resolver) InvalidatePrefix(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := p
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	for k := range r.cache {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(r.cache, k)
			r.stats.Invalidations++
		}
	}
}

// Stats returns a snapshot of the cache's counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ValidatePath is pure: it rejects an empty path, a leading slash, or any
// path containing "..", even inside a longer name such as "a..b", and
// otherwise returns the path's non-empty segments in order (§4.5).
func ValidatePath(path string) ([]string, error) {
	if path == "" {
		return nil, claudeerr.New(claudeerr.InvalidPath, "empty path")
	}
	if strings.HasPrefix(path, "/") {
		return nil, claudeerr.New(claudeerr.InvalidPath, "absolute path")
	}
	if strings.Contains(path, "..") {
		return nil, claudeerr.New(claudeerr.InvalidPath, "contains ..")
	}

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return nil, claudeerr.New(claudeerr.InvalidPath, "empty path")
	}
	return segments, nil
}

// CheckDepth rejects segment sequences deeper than the resolver's
// configured MaxDepth.
func (r *Resolver) CheckDepth(segments []string) error {
	if r.cfg.MaxDepth > 0 && len(segments) > r.cfg.MaxDepth {
		return claudeerr.New(claudeerr.PathTooDeep, "path exceeds max depth")
	}
	return nil
}
