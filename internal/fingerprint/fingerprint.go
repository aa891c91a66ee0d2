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

// Package fingerprint computes content fingerprints: a BLAKE3 CAS key plus
// four FNV-1a MinHash super-features used as a similarity/delta-encoding
// signature (spec §4.6).
package fingerprint

import (
	"hash/fnv"

	"lukechampine.com/blake3"

	"github.com/dirkpetersen/claudefs/internal/model"
)

// Hash returns the 32-byte BLAKE3 hash of data, suitable as a CAS key.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// SuperFeatures partitions data into four contiguous regions of size
// ceil(len/4) (the last region possibly short) and applies FNV-1a 64-bit
// over each. Inputs shorter than four bytes yield all zeros.
func SuperFeatures(data []byte) [4]uint64 {
	var out [4]uint64
	if len(data) < 4 {
		return out
	}

	regionSize := (len(data) + 3) / 4
	for i := range out {
		start := i * regionSize
		if start >= len(data) {
			break
		}
		end := start + regionSize
		if end > len(data) {
			end = len(data)
		}
		h := fnv.New64a()
		_, _ = h.Write(data[start:end])
		out[i] = h.Sum64()
	}
	return out
}

// Compute returns the full fingerprint (hash + super-features) for data.
func Compute(data []byte) model.Fingerprint {
	return model.Fingerprint{
		Hash:          Hash(data),
		SuperFeatures: SuperFeatures(data),
	}
}
