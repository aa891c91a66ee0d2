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

// Package liveconfig implements the hot-reloadable, watcher-notified
// key/value configuration store of spec §4.20: every Set/Remove bumps
// a monotonic store-wide version, and Reload computes a transactional
// diff against a full new key set while reload_in_progress rejects any
// concurrent Set/Remove.
package liveconfig

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dirkpetersen/claudefs/clock"
	"github.com/dirkpetersen/claudefs/internal/claudeerr"
)

// Entry is a single live config value plus its version metadata.
type Entry struct {
	Key         string
	Value       string
	Version     uint64
	LastUpdated int64 // Unix seconds
	Description string
}

// ReloadOutcome classifies what a Reload call changed.
type ReloadOutcome int

const (
	ReloadNoChanges ReloadOutcome = iota
	ReloadSuccess
)

// ReloadResult is the result of a Reload call.
type ReloadResult struct {
	Outcome      ReloadOutcome
	KeysUpdated  int
	KeysUnchanged int
}

// Watcher receives a notification on Keys whenever any of the keys it
// watches changes.
type Watcher struct {
	Keys chan []string

	keys []string
}

func (w *Watcher) matches(changed []string) bool {
	for _, c := range changed {
		for _, k := range w.keys {
			if c == k {
				return true
			}
		}
	}
	return false
}

// Store is a thread-safe, hot-reloadable key/value configuration store.
type Store struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]Entry
	version uint64

	reloadInProgress atomic.Bool

	watchersMu sync.Mutex
	watchers   []*Watcher
}

// New constructs an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{clk: clk, entries: make(map[string]Entry)}
}

// Set creates or updates a single key, bumping the store version.
func (s *Store) Set(key, value, description string) error {
	if s.reloadInProgress.Load() {
		return claudeerr.New(claudeerr.ReloadInProgress, "live config reload in progress")
	}

	s.mu.Lock()
	s.version++
	entry := Entry{
		Key:         key,
		Value:       value,
		Version:     s.version,
		LastUpdated: s.clk.Now().Unix(),
		Description: description,
	}
	s.entries[key] = entry
	s.mu.Unlock()

	s.notifyWatchers([]string{key})
	return nil
}

// Get returns the entry for key, or ConfigNotFound.
func (s *Store) Get(key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, claudeerr.New(claudeerr.ConfigNotFound, key)
	}
	return e, nil
}

// Keys returns every key currently stored, in no particular order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Version returns the store's current monotonic version counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Remove deletes key, bumping the store version. Returns ConfigNotFound
// if key was not present.
func (s *Store) Remove(key string) error {
	if s.reloadInProgress.Load() {
		return claudeerr.New(claudeerr.ReloadInProgress, "live config reload in progress")
	}

	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		s.version++
	}
	s.mu.Unlock()

	if !ok {
		return claudeerr.New(claudeerr.ConfigNotFound, key)
	}
	s.notifyWatchers([]string{key})
	return nil
}

// NewEntry is one (value, description) pair to apply during Reload.
type NewEntry struct {
	Value       string
	Description string
}

// Reload replaces the entire config set with newEntries in one
// transaction: keys present in the store but absent from newEntries are
// removed, keys whose value differs are updated, and keys with an
// unchanged value are left alone (their version does not bump). While a
// Reload runs, Set and Remove are rejected with ReloadInProgress.
func (s *Store) Reload(newEntries map[string]NewEntry) ReloadResult {
	s.reloadInProgress.Store(true)
	defer s.reloadInProgress.Store(false)

	var changedKeys []string
	keysUpdated := 0
	keysUnchanged := 0

	s.mu.Lock()
	for key := range s.entries {
		if _, keep := newEntries[key]; !keep {
			delete(s.entries, key)
			changedKeys = append(changedKeys, key)
			keysUpdated++
		}
	}
	now := s.clk.Now().Unix()
	for key, ne := range newEntries {
		existing, ok := s.entries[key]
		if ok && existing.Value == ne.Value {
			keysUnchanged++
			continue
		}
		s.version++
		s.entries[key] = Entry{
			Key:         key,
			Value:       ne.Value,
			Version:     s.version,
			LastUpdated: now,
			Description: ne.Description,
		}
		changedKeys = append(changedKeys, key)
		keysUpdated++
	}
	s.mu.Unlock()

	s.notifyWatchers(changedKeys)

	if keysUpdated == 0 {
		return ReloadResult{Outcome: ReloadNoChanges, KeysUnchanged: keysUnchanged}
	}
	return ReloadResult{Outcome: ReloadSuccess, KeysUpdated: keysUpdated, KeysUnchanged: keysUnchanged}
}

// Watch registers a watcher for the given key subset and returns a
// channel that receives the list of changed keys whenever a Set,
// Remove, or Reload touches one of them. The channel is buffered so a
// slow consumer cannot block config mutations.
func (s *Store) Watch(keys []string) <-chan []string {
	w := &Watcher{keys: keys, Keys: make(chan []string, 16)}
	s.watchersMu.Lock()
	s.watchers = append(s.watchers, w)
	s.watchersMu.Unlock()
	return w.Keys
}

// WatcherCount returns the number of registered watchers.
func (s *Store) WatcherCount() int {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	return len(s.watchers)
}

func (s *Store) notifyWatchers(changed []string) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for _, w := range s.watchers {
		if w.matches(changed) {
			select {
			case w.Keys <- changed:
			default:
			}
		}
	}
}

// ValidateJSON reports whether value parses as JSON, for config keys
// that store a JSON-encoded value.
func ValidateJSON(value string) error {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return claudeerr.Wrap(claudeerr.ConfigValidationFailed, err, "invalid JSON value")
	}
	return nil
}

// ParseEntry unmarshals a JSON-encoded entry value into T.
func ParseEntry[T any](e Entry) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(e.Value), &out); err != nil {
		return out, claudeerr.Wrap(claudeerr.Serialization, err, "parsing live config entry "+e.Key)
	}
	return out, nil
}
