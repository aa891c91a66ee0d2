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

// Package compress applies zstd framing to journal entry payloads before
// they cross the wire (spec §2's "Compression (wire)" component), using
// klauspost/compress since it outperforms stdlib's flate/gzip at
// comparable ratios and needs no cgo.
package compress

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// Level selects a zstd speed/ratio tradeoff.
type Level int

const (
	// Fastest favors CPU over ratio, for latency-sensitive intra-site links.
	Fastest Level = iota
	// Default balances ratio and CPU for cross-site WAN replication.
	Default
	// Best favors ratio over CPU, for archival/checkpoint payloads.
	Best
)

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch l {
	case Fastest:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// DefaultMinPayloadSize is the smallest payload CompressEntries will
// bother compressing; zstd's frame overhead makes compressing anything
// smaller a net loss.
const DefaultMinPayloadSize = 256

// Codec compresses and decompresses wire payloads. A Codec is safe for
// concurrent use; encoders/decoders are pooled internally by the
// underlying zstd package.
type Codec struct {
	level          Level
	minPayloadSize int

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New constructs a Codec at the given level, using DefaultMinPayloadSize
// as the compression threshold. Callers should keep one Codec per
// process per level rather than constructing one per call; the
// underlying encoder/decoder hold reusable window buffers.
func New(level Level) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level.encoderLevel()))
	if err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "constructing zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "constructing zstd decoder")
	}
	return &Codec{level: level, minPayloadSize: DefaultMinPayloadSize, encoder: enc, decoder: dec}, nil
}

// SetMinPayloadSize overrides the threshold below which CompressEntries
// passes a payload through uncompressed.
func (c *Codec) SetMinPayloadSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minPayloadSize = n
}

// Close releases the Codec's decoder goroutines. Encoders are stateless
// across calls and need no explicit close.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoder.Close()
}

// Compress returns the zstd-framed encoding of data. Empty input encodes
// to a non-empty zstd frame, so callers should skip compression for
// zero-length payloads rather than call this unconditionally.
func (c *Codec) Compress(data []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "zstd decompress")
	}
	return out, nil
}

// CompressEntries returns a copy of entries with every Payload of at least
// the Codec's minimum payload size replaced by its compressed form (shorter
// payloads are copied unchanged), leaving CRC and other fields intact.
// It reports the total bytes before and after, so callers can track
// savings without a second pass.
func (c *Codec) CompressEntries(entries []model.JournalEntry) (out []model.JournalEntry, rawBytes, compressedBytes uint64) {
	c.mu.Lock()
	threshold := c.minPayloadSize
	c.mu.Unlock()

	out = make([]model.JournalEntry, len(entries))
	for i, e := range entries {
		rawBytes += uint64(len(e.Payload))
		if len(e.Payload) < threshold {
			compressedBytes += uint64(len(e.Payload))
			out[i] = e
			continue
		}
		compressed := c.Compress(e.Payload)
		compressedBytes += uint64(len(compressed))
		e.Payload = compressed
		out[i] = e
	}
	return out, rawBytes, compressedBytes
}

// DecompressEntries reverses CompressEntries. Payloads that do not start
// with the zstd magic number are passed through unchanged, so a batch may
// mix compressed and uncompressed entries; a payload that starts with the
// magic number but fails to decode returns an error.
func (c *Codec) DecompressEntries(entries []model.JournalEntry) ([]model.JournalEntry, error) {
	out := make([]model.JournalEntry, len(entries))
	for i, e := range entries {
		if !IsZstdFrame(e.Payload) {
			out[i] = e
			continue
		}
		raw, err := c.Decompress(e.Payload)
		if err != nil {
			return nil, err
		}
		e.Payload = raw
		out[i] = e
	}
	return out, nil
}

// IsZstdFrame reports whether data begins with the zstd magic number,
// letting a receiver distinguish compressed from plain payloads when a
// link's compression setting might differ from its peer's.
func IsZstdFrame(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd})
}
