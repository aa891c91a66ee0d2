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

package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirkpetersen/claudefs/internal/model"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()

	data := []byte(strings.Repeat("claudefs journal payload ", 200))
	compressed := c.Compress(data)
	assert.Less(t, len(compressed), len(data))

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress([]byte("not a zstd frame at all"))
	assert.Error(t, err)
}

func TestIsZstdFrame(t *testing.T) {
	c, err := New(Fastest)
	require.NoError(t, err)
	defer c.Close()

	compressed := c.Compress([]byte("hello world"))
	assert.True(t, IsZstdFrame(compressed))
	assert.False(t, IsZstdFrame([]byte("plain bytes")))
	assert.False(t, IsZstdFrame(nil))
}

func TestLevelsAllConstructSuccessfully(t *testing.T) {
	for _, lvl := range []Level{Fastest, Default, Best} {
		c, err := New(lvl)
		require.NoError(t, err)
		out := c.Compress([]byte("repeated repeated repeated repeated"))
		assert.NotEmpty(t, out)
		c.Close()
	}
}

func TestCompressEntriesSkipsSmallPayloads(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()

	entries := []model.JournalEntry{
		{Seq: 1, Payload: []byte(strings.Repeat("a", 500))},
		{Seq: 2, Payload: nil},
		{Seq: 3, Payload: []byte("short")},
	}

	out, rawBytes, compressedBytes := c.CompressEntries(entries)
	require.Len(t, out, 3)
	assert.Nil(t, out[1].Payload)
	assert.Equal(t, entries[2].Payload, out[2].Payload)
	assert.NotEqual(t, entries[0].Payload, out[0].Payload)
	assert.Equal(t, uint64(500+0+5), rawBytes)
	assert.Greater(t, compressedBytes, uint64(0))
	assert.True(t, IsZstdFrame(out[0].Payload))
	assert.False(t, IsZstdFrame(out[2].Payload))
}

func TestCompressEntriesRespectsCustomThreshold(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()
	c.SetMinPayloadSize(4)

	entries := []model.JournalEntry{{Seq: 1, Payload: []byte("tiny")}}
	out, _, _ := c.CompressEntries(entries)
	assert.True(t, IsZstdFrame(out[0].Payload))
}

func TestCompressDecompressEntriesRoundTrip(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()

	original := []model.JournalEntry{
		{Seq: 1, Payload: []byte(strings.Repeat("x", 1000))},
		{Seq: 2, Payload: nil},
		{Seq: 3, Payload: []byte("tiny")},
	}

	compressed, _, _ := c.CompressEntries(original)
	restored, err := c.DecompressEntries(compressed)
	require.NoError(t, err)

	require.Len(t, restored, 3)
	for i := range original {
		assert.True(t, bytes.Equal(original[i].Payload, restored[i].Payload))
		assert.Equal(t, original[i].Seq, restored[i].Seq)
	}
}

func TestDecompressEntriesPropagatesError(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)
	defer c.Close()

	// zstd magic and frame header followed by a block of the reserved type.
	bad := []model.JournalEntry{{Seq: 1, Payload: []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x00, 0x07, 0x00, 0x00}}}
	_, err = c.DecompressEntries(bad)
	assert.Error(t, err)
}
