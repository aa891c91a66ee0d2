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

package conduit

import "github.com/dirkpetersen/claudefs/internal/model"

// Compact coalesces consecutive write entries to the same inode down to
// the last one, preserving relative order of every other operation kind
// (spec §4.9: "deduping coalescable ops, e.g., consecutive writes to the
// same inode"). It returns the compacted slice and the number of entries
// removed.
func Compact(entries []model.JournalEntry) ([]model.JournalEntry, int) {
	if len(entries) == 0 {
		return entries, 0
	}

	out := make([]model.JournalEntry, 0, len(entries))
	removed := 0

	for _, e := range entries {
		if e.Op == model.OpWrite && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Op == model.OpWrite && last.Inode == e.Inode {
				*last = e
				removed++
				continue
			}
		}
		out = append(out, e)
	}

	return out, removed
}
